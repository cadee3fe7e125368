package main

import (
	"context"
	crand "crypto/rand"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tournament-score-system/config"
	"tournament-score-system/handlers"
	"tournament-score-system/ledger"
	"tournament-score-system/models"
	"tournament-score-system/services"
	"tournament-score-system/utils"
	"tournament-score-system/workers"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newDrawer seeds the reel randomness from the OS.
func newDrawer() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		log.Fatal().Err(err).Msg("failed to seed reel randomness")
	}
	return rand.New(rand.NewChaCha8(seed))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogger(cfg)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(
		&models.ScoreSubmission{},
		&models.ParticipationRecord{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := ledger.Dial(ctx, ledger.Options{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.TournamentManagerAddress,
		ChainID:         cfg.ChainID,
		AdminPrivateKey: cfg.AdminPrivateKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ledger")
	}
	defer chain.Close()

	var archive services.SubmissionArchive
	if cfg.ArchiveEnabled() {
		r2, err := utils.NewR2Archive(ctx, utils.R2Config{
			AccountID:       cfg.CloudflareAccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		archive = r2
	} else {
		log.Warn().Msg("⚠️  R2 not configured, submission audit archive disabled")
	}

	clock := clockwork.NewRealClock()
	submissions := services.NewSubmissionStore(db)
	participations := services.NewParticipationStore(db)

	relayService := services.NewScoreRelayService(submissions, chain, archive, clock, cfg.LedgerWriteTimeout)
	relayClient := services.NewRelayClient(cfg.RelayURL, cfg.ServiceToken, cfg.RelayTimeout)
	engine := services.NewReelEngine(clock, newDrawer(), services.ReelTiming{
		Reel2: cfg.Reel2Delay,
		Reel3: cfg.Reel3Delay,
		Score: cfg.ScoreDelay,
	})
	sessions := services.NewSessionManager(chain, relayClient, engine, participations, clock)
	tournamentService := services.NewTournamentService(chain, sessions, clock)
	spinService := services.NewSpinService(sessions)

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, X-Request-ID, X-Player-Address, X-Service-Token",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400, // 24 hours
	}))

	handlers.SetupHealthRoutes(app, db, chain.CanSign)
	handlers.SetupRelayRoutes(app, relayService, cfg.ServiceToken)
	handlers.SetupTournamentRoutes(app, tournamentService, spinService)

	reconciler := workers.NewSubmissionReconciler(submissions, chain, clock, cfg.ReconcileInterval, cfg.PendingStaleAfter)
	sched, err := reconciler.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start reconciler")
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("✅ Server running")
	log.Info().Bool("relay_can_sign", chain.CanSign()).Msg("✅ Score relay mounted on /api/submit")
	log.Info().Strs("origins", cfg.AllowedOrigins).Msg("✅ CORS configured")

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// let submissions already on their way settle while the relay still serves
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.RelayTimeout)
	defer cancel()
	if err := sessions.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight submissions cut off; they will be offered for retry")
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("reconciler shutdown")
	}
}

package middleware

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"tournament-score-system/services"
)

// PlayerContextMiddleware reads the caller's wallet from X-Player-Address,
// validates it and stores it lower-cased in services.PlayerAddressLocal.
// With required=false a missing header is allowed (public reads); a
// malformed one is always rejected.
func PlayerContextMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return attachPlayer(c, c.Get("X-Player-Address"), required)
	}
}

func attachPlayer(c *fiber.Ctx, raw string, required bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			log.Warn().Str("path", c.Path()).Msg("❌ [PLAYER_CTX] player address required but missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Player-Address, connect a wallet first",
			})
		}
		return c.Next()
	}

	if !common.IsHexAddress(raw) {
		log.Warn().Str("path", c.Path()).Str("address", raw).Msg("❌ [PLAYER_CTX] malformed player address")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid player address",
		})
	}

	player := strings.ToLower(common.HexToAddress(raw).Hex())
	c.Locals(services.PlayerAddressLocal, player)
	log.Debug().Str("player", player).Str("path", c.Path()).Msg("👤 [PLAYER_CTX] player attached")
	return c.Next()
}

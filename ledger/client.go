// Package ledger talks to the TournamentManager contract: it is the
// authoritative source for tournaments and recorded scores, and the only
// place scores are written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"tournament-score-system/models"
)

// ErrNoSigner is returned by writes when no admin key is configured.
var ErrNoSigner = errors.New("ledger: admin signing key not configured")

// ErrReverted is returned when a mined transaction failed.
var ErrReverted = errors.New("ledger: transaction reverted")

// contract is the part of *bind.BoundContract the client uses.
type contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type minedWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

type Options struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	AdminPrivateKey string // hex, optional; without it the client is read-only
}

type Client struct {
	contract contract
	wait     minedWaiter
	auth     *bind.TransactOpts
	closeFn  func()

	// one write at a time so nonces are not reused
	writeMu sync.Mutex
}

// Dial connects to the RPC endpoint and binds the contract.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(tournamentManagerABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", opts.RPCURL, err)
	}

	var auth *bind.TransactOpts
	if opts.AdminPrivateKey != "" {
		auth, err = NewTransactor(opts.AdminPrivateKey, opts.ChainID)
		if err != nil {
			eth.Close()
			return nil, err
		}
		log.Info().Str("signer", auth.From.Hex()).Msg("[LEDGER] admin signer loaded")
	} else {
		log.Warn().Msg("[LEDGER] ADMIN_PRIVATE_KEY not set, score writes are disabled")
	}

	bound := bind.NewBoundContract(common.HexToAddress(opts.ContractAddress), parsed, eth, eth, eth)
	wait := func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, eth, tx)
	}
	return newClient(bound, wait, auth, eth.Close), nil
}

func newClient(c contract, wait minedWaiter, auth *bind.TransactOpts, closeFn func()) *Client {
	return &Client{contract: c, wait: wait, auth: auth, closeFn: closeFn}
}

// NewTransactor builds signing options from a hex private key.
func NewTransactor(hexKey string, chainID int64) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse admin private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return auth, nil
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// CanSign reports whether writes are possible.
func (c *Client) CanSign() bool {
	return c.auth != nil
}

func parseID(id string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(id), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid tournament id %q", id)
	}
	return v, nil
}

func parsePlayer(player string) (common.Address, error) {
	if !common.IsHexAddress(player) {
		return common.Address{}, fmt.Errorf("invalid player address %q", player)
	}
	return common.HexToAddress(player), nil
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func unixTime(v *big.Int) time.Time {
	return time.Unix(v.Int64(), 0).UTC()
}

// Tournament reads getTournamentDetails.
func (c *Client) Tournament(ctx context.Context, id string) (models.Tournament, error) {
	tid, err := parseID(id)
	if err != nil {
		return models.Tournament{}, err
	}
	out, err := c.call(ctx, "getTournamentDetails", tid)
	if err != nil {
		return models.Tournament{}, err
	}
	if len(out) != 12 {
		return models.Tournament{}, fmt.Errorf("getTournamentDetails: unexpected %d outputs", len(out))
	}

	name, _ := out[0].(string)
	entryFee, _ := out[1].(*big.Int)
	token, _ := out[2].(common.Address)
	active, _ := out[3].(*big.Int)
	maxPlayers, _ := out[4].(*big.Int)
	start, _ := out[5].(*big.Int)
	end, _ := out[6].(*big.Int)
	joinDeadline, _ := out[7].(*big.Int)
	scoreDeadline, _ := out[8].(*big.Int)
	pool, _ := out[9].(*big.Int)
	status, _ := out[10].(uint8)
	distributed, _ := out[11].(bool)

	for _, v := range []*big.Int{entryFee, active, maxPlayers, start, end, joinDeadline, scoreDeadline, pool} {
		if v == nil {
			return models.Tournament{}, errors.New("getTournamentDetails: malformed output")
		}
	}
	// unknown ids come back zeroed
	if name == "" && maxPlayers.Sign() == 0 && start.Sign() == 0 {
		return models.Tournament{}, fmt.Errorf("tournament %s: %w", id, models.ErrTournamentNotFound)
	}

	st := models.TournamentStatus(status)
	return models.Tournament{
		ID:                      tid.String(),
		Name:                    name,
		EntryFeeWei:             entryFee.String(),
		TokenAddress:            token.Hex(),
		PlayerCount:             active.Int64(),
		MaxPlayers:              maxPlayers.Int64(),
		StartTime:               unixTime(start),
		EndTime:                 unixTime(end),
		JoinDeadline:            unixTime(joinDeadline),
		ScoreSubmissionDeadline: unixTime(scoreDeadline),
		PrizePoolWei:            pool.String(),
		Status:                  st,
		PrizesDistributed:       distributed,
		Cancelled:               st == models.TournamentStatusCancelled,
	}, nil
}

// PlayerScore reads getPlayerScore; 0 means nothing recorded.
func (c *Client) PlayerScore(ctx context.Context, id, player string) (uint64, error) {
	tid, err := parseID(id)
	if err != nil {
		return 0, err
	}
	addr, err := parsePlayer(player)
	if err != nil {
		return 0, err
	}
	out, err := c.call(ctx, "getPlayerScore", tid, addr)
	if err != nil {
		return 0, err
	}
	score, ok := out[0].(*big.Int)
	if !ok || !score.IsUint64() {
		return 0, errors.New("getPlayerScore: malformed output")
	}
	return score.Uint64(), nil
}

// Participation combines hasPlayerJoined and getPlayerScore.
func (c *Client) Participation(ctx context.Context, id, player string) (models.PlayerParticipation, error) {
	tid, err := parseID(id)
	if err != nil {
		return models.PlayerParticipation{}, err
	}
	addr, err := parsePlayer(player)
	if err != nil {
		return models.PlayerParticipation{}, err
	}

	out, err := c.call(ctx, "hasPlayerJoined", tid, addr)
	if err != nil {
		return models.PlayerParticipation{}, err
	}
	joined, _ := out[0].(bool)

	raw, err := c.PlayerScore(ctx, id, player)
	if err != nil {
		return models.PlayerParticipation{}, err
	}

	p := models.PlayerParticipation{
		TournamentID:  tid.String(),
		PlayerAddress: strings.ToLower(addr.Hex()),
		HasJoined:     joined,
	}
	if raw > 0 {
		score := models.Score(raw)
		p.PriorScore = &score
	}
	return p, nil
}

func (c *Client) addresses(ctx context.Context, method, id string) ([]string, error) {
	tid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, method, tid)
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%s: malformed output", method)
	}
	res := make([]string, 0, len(addrs))
	for _, a := range addrs {
		res = append(res, strings.ToLower(a.Hex()))
	}
	return res, nil
}

// Participants reads getTournamentParticipants.
func (c *Client) Participants(ctx context.Context, id string) ([]string, error) {
	return c.addresses(ctx, "getTournamentParticipants", id)
}

// Winners reads getTournamentWinners.
func (c *Client) Winners(ctx context.Context, id string) ([]string, error) {
	return c.addresses(ctx, "getTournamentWinners", id)
}

// SubmitScore sends submitScore signed by the admin key and waits until it
// is mined. It returns the transaction hash. sent, when set, is called with
// the hash once the transaction is broadcast; an error after that point
// leaves the outcome unknown unless it is ErrReverted.
func (c *Client) SubmitScore(ctx context.Context, id, player string, score models.Score, sent func(txHash string)) (string, error) {
	if c.auth == nil {
		return "", ErrNoSigner
	}
	tid, err := parseID(id)
	if err != nil {
		return "", err
	}
	addr, err := parsePlayer(player)
	if err != nil {
		return "", err
	}
	if !score.Valid() {
		return "", fmt.Errorf("score %d out of range", score)
	}

	c.writeMu.Lock()
	opts := *c.auth
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "submitScore", tid, addr, big.NewInt(int64(score)))
	c.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("submitScore: %w", err)
	}

	log.Info().Str("tx", tx.Hash().Hex()).Str("tournament_id", tid.String()).Str("player", addr.Hex()).Msg("[LEDGER] submitScore sent, waiting for receipt")
	if sent != nil {
		sent(tx.Hash().Hex())
	}

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

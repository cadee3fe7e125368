package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-score-system/models"
)

const player = "0x00000000000000000000000000000000000000aA"

type call struct {
	method string
	params []interface{}
}

type fakeContract struct {
	outputs  map[string][]interface{}
	calls    []call
	sendErr  error
	sentFrom common.Address
}

func (f *fakeContract) Call(_ *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error {
	f.calls = append(f.calls, call{method, params})
	out, ok := f.outputs[method]
	if !ok {
		return errors.New("execution reverted")
	}
	*results = out
	return nil
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	f.calls = append(f.calls, call{method, params})
	f.sentFrom = opts.From
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 7, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func minedWith(status uint64) minedWaiter {
	return func(context.Context, *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: status}, nil
	}
}

func details(name string, status uint8) []interface{} {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	return []interface{}{
		name,
		big.NewInt(1e18),
		common.Address{},
		big.NewInt(4),
		big.NewInt(4),
		big.NewInt(start),
		big.NewInt(start + 3600),
		big.NewInt(start - 60),
		big.NewInt(start + 7200),
		big.NewInt(4e18),
		status,
		false,
	}
}

func testTransactor(t *testing.T) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(84532))
	require.NoError(t, err)
	return auth
}

func TestABIPacksEveryMethod(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(tournamentManagerABI))
	require.NoError(t, err)

	addr := common.HexToAddress(player)
	_, err = parsed.Pack("getTournamentDetails", big.NewInt(1))
	require.NoError(t, err)
	_, err = parsed.Pack("getPlayerScore", big.NewInt(1), addr)
	require.NoError(t, err)
	_, err = parsed.Pack("hasPlayerJoined", big.NewInt(1), addr)
	require.NoError(t, err)
	_, err = parsed.Pack("getTournamentParticipants", big.NewInt(1))
	require.NoError(t, err)
	_, err = parsed.Pack("getTournamentWinners", big.NewInt(1))
	require.NoError(t, err)
	_, err = parsed.Pack("submitScore", big.NewInt(1), addr, big.NewInt(305))
	require.NoError(t, err)
}

func TestTournamentDecoding(t *testing.T) {
	fc := &fakeContract{outputs: map[string][]interface{}{
		"getTournamentDetails": details("Friday Spin", uint8(models.TournamentStatusInProgress)),
	}}
	c := newClient(fc, minedWith(1), nil, nil)

	tour, err := c.Tournament(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, "12", tour.ID)
	assert.Equal(t, "Friday Spin", tour.Name)
	assert.Equal(t, "1000000000000000000", tour.EntryFeeWei)
	assert.True(t, tour.IsNativeToken())
	assert.True(t, tour.IsFull())
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), tour.StartTime)
	assert.Equal(t, models.TournamentStatusInProgress, tour.Status)
	assert.False(t, tour.Cancelled)

	require.Len(t, fc.calls, 1)
	assert.Equal(t, 0, big.NewInt(12).Cmp(fc.calls[0].params[0].(*big.Int)))
}

func TestTournamentCancelledAndMissing(t *testing.T) {
	fc := &fakeContract{outputs: map[string][]interface{}{
		"getTournamentDetails": details("Gone", uint8(models.TournamentStatusCancelled)),
	}}
	c := newClient(fc, minedWith(1), nil, nil)
	tour, err := c.Tournament(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, tour.Cancelled)

	zero := []interface{}{"", big.NewInt(0), common.Address{}, big.NewInt(0), big.NewInt(0), big.NewInt(0),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), uint8(0), false}
	fc.outputs["getTournamentDetails"] = zero
	_, err = c.Tournament(context.Background(), "99")
	require.ErrorIs(t, err, models.ErrTournamentNotFound)

	_, err = c.Tournament(context.Background(), "not-a-number")
	require.Error(t, err)
}

func TestParticipationTreatsZeroAsAbsent(t *testing.T) {
	fc := &fakeContract{outputs: map[string][]interface{}{
		"hasPlayerJoined": {true},
		"getPlayerScore":  {big.NewInt(0)},
	}}
	c := newClient(fc, minedWith(1), nil, nil)

	p, err := c.Participation(context.Background(), "1", player)
	require.NoError(t, err)
	assert.True(t, p.HasJoined)
	assert.Nil(t, p.PriorScore)
	assert.Equal(t, strings.ToLower(player), p.PlayerAddress)

	fc.outputs["getPlayerScore"] = []interface{}{big.NewInt(777)}
	p, err = c.Participation(context.Background(), "1", player)
	require.NoError(t, err)
	require.NotNil(t, p.PriorScore)
	assert.Equal(t, models.Score(777), *p.PriorScore)
}

func TestParticipantsAndWinners(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000Bb")
	fc := &fakeContract{outputs: map[string][]interface{}{
		"getTournamentParticipants": {[]common.Address{a}},
		"getTournamentWinners":      {[]common.Address{}},
	}}
	c := newClient(fc, minedWith(1), nil, nil)

	ps, err := c.Participants(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000bb"}, ps)

	ws, err := c.Winners(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestSubmitScoreWithoutSigner(t *testing.T) {
	fc := &fakeContract{}
	c := newClient(fc, minedWith(1), nil, nil)

	assert.False(t, c.CanSign())
	_, err := c.SubmitScore(context.Background(), "1", player, 305, nil)
	require.ErrorIs(t, err, ErrNoSigner)
	assert.Empty(t, fc.calls)
}

func TestSubmitScoreSendsAndWaits(t *testing.T) {
	auth := testTransactor(t)
	fc := &fakeContract{}
	c := newClient(fc, minedWith(types.ReceiptStatusSuccessful), auth, nil)

	var broadcast string
	hash, err := c.SubmitScore(context.Background(), "3", player, 305, func(h string) { broadcast = h })
	require.NoError(t, err)
	assert.Equal(t, hash, broadcast, "hash is reported before the receipt")
	assert.True(t, strings.HasPrefix(hash, "0x"))
	assert.Len(t, hash, 66)
	assert.Equal(t, auth.From, fc.sentFrom)

	require.Len(t, fc.calls, 1)
	sent := fc.calls[0]
	assert.Equal(t, "submitScore", sent.method)
	assert.Equal(t, common.HexToAddress(player), sent.params[1])
	assert.Equal(t, int64(305), sent.params[2].(*big.Int).Int64())
}

func TestSubmitScoreReverted(t *testing.T) {
	c := newClient(&fakeContract{}, minedWith(types.ReceiptStatusFailed), testTransactor(t), nil)
	_, err := c.SubmitScore(context.Background(), "3", player, 305, nil)
	require.ErrorIs(t, err, ErrReverted)
}

func TestSubmitScoreRejectsOutOfRange(t *testing.T) {
	fc := &fakeContract{}
	c := newClient(fc, minedWith(1), testTransactor(t), nil)
	_, err := c.SubmitScore(context.Background(), "3", player, 1000, nil)
	require.Error(t, err)
	assert.Empty(t, fc.calls)
}

func TestNewTransactor(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	auth, err := NewTransactor(hexKey, 84532)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), auth.From)

	_, err = NewTransactor("zz", 84532)
	require.Error(t, err)
}

func TestSubmitScoreReceiptWaitFailsAfterBroadcast(t *testing.T) {
	waitErr := func(context.Context, *types.Transaction) (*types.Receipt, error) {
		return nil, context.DeadlineExceeded
	}
	c := newClient(&fakeContract{}, waitErr, testTransactor(t), nil)

	var broadcast string
	_, err := c.SubmitScore(context.Background(), "3", player, 305, func(h string) { broadcast = h })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrReverted)
	assert.NotEmpty(t, broadcast)
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"tournament-score-system/models"
	"tournament-score-system/utils"
)

// FailureKind classifies why a relay submission did not settle.
type FailureKind string

const (
	FailureNetwork       FailureKind = "network"       // no response at all
	FailureRelay         FailureKind = "relay"         // ledger write failed behind the relay
	FailureConfiguration FailureKind = "configuration" // relay has no signing credential
	FailureValidation    FailureKind = "validation"    // relay rejected the request body
	FailureDuplicate     FailureKind = "duplicate"     // a different score is already recorded
	FailureInProgress    FailureKind = "in_progress"   // an earlier attempt has not settled yet
	FailureMalformed     FailureKind = "malformed"     // response body could not be understood
)

// Retryable reports whether re-sending the same score may succeed.
// Configuration, validation and duplicate failures need an operator.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureNetwork, FailureRelay, FailureInProgress, FailureMalformed:
		return true
	default:
		return false
	}
}

// RelayError is returned by RelayClient for every failed submission.
type RelayError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *RelayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("relay %s error: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Err }

// ScoreSubmitter is what the SubmissionGuard needs from the relay.
type ScoreSubmitter interface {
	SubmitScore(ctx context.Context, req SubmitScoreRequest) (txHash string, err error)
}

// SubmitScoreRequest is the body of POST /api/submit.
type SubmitScoreRequest struct {
	TournamentID  string        `json:"tournamentId"`
	PlayerAddress string        `json:"playerAddress"`
	Score         *models.Score `json:"score"`
}

// SubmitScoreResponse covers both the success and the error bodies.
type SubmitScoreResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
}

// RelayClient calls the score relay over HTTP.
type RelayClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewRelayClient(baseURL, token string, timeout time.Duration) *RelayClient {
	return &RelayClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.NewHTTPClient(timeout),
	}
}

// SubmitScore posts one score and returns the ledger transaction hash.
// Any failure is a *RelayError.
func (c *RelayClient) SubmitScore(ctx context.Context, in SubmitScoreRequest) (string, error) {
	url := fmt.Sprintf("%s/api/submit", c.BaseURL)

	jsonData, err := json.Marshal(in)
	if err != nil {
		return "", &RelayError{Kind: FailureValidation, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", &RelayError{Kind: FailureNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", &RelayError{Kind: FailureNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", &RelayError{Kind: FailureNetwork, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var out SubmitScoreResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("[RELAY_CLIENT] /api/submit rejected score")
		return "", relayErrorFor(resp.StatusCode, out, decodeErr)
	}

	if decodeErr != nil {
		return "", &RelayError{Kind: FailureMalformed, StatusCode: resp.StatusCode, Message: "undecodable success body", Err: decodeErr}
	}
	if !out.Success {
		return "", &RelayError{Kind: FailureMalformed, StatusCode: resp.StatusCode, Message: "200 without success"}
	}
	if out.TransactionHash == "" {
		// the relay found the score on the ledger without knowing its hash
		log.Warn().Str("tournament_id", in.TournamentID).Str("player", in.PlayerAddress).Msg("[RELAY_CLIENT] score recorded, transaction hash unknown")
	}
	return out.TransactionHash, nil
}

func relayErrorFor(status int, out SubmitScoreResponse, decodeErr error) *RelayError {
	msg := out.Message
	if msg == "" {
		msg = out.Error
	}
	if decodeErr != nil {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest:
		return &RelayError{Kind: FailureValidation, StatusCode: status, Message: msg}
	case status == http.StatusConflict && out.Error == errInProgress:
		return &RelayError{Kind: FailureInProgress, StatusCode: status, Message: msg}
	case status == http.StatusConflict:
		return &RelayError{Kind: FailureDuplicate, StatusCode: status, Message: msg}
	case status == http.StatusInternalServerError && out.Error == errServerConfiguration:
		return &RelayError{Kind: FailureConfiguration, StatusCode: status, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &RelayError{Kind: FailureConfiguration, StatusCode: status, Message: msg}
	default:
		return &RelayError{Kind: FailureRelay, StatusCode: status, Message: msg}
	}
}

// AsRelayError unwraps err into a *RelayError, classifying anything else as
// a network failure.
func AsRelayError(err error) *RelayError {
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}
	return &RelayError{Kind: FailureNetwork, Message: err.Error(), Err: err}
}

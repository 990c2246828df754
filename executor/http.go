package executor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credit"
)

// DefaultTimeout bounds one executor call.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// HTTP invokes a remote executor over HTTP.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

var _ credit.Executor = (*HTTP)(nil)

// NewHTTP creates an HTTP executor. A nil client uses http.DefaultClient.
func NewHTTP(url string, client *http.Client, timeout time.Duration, log zerolog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		url:     url,
		client:  client,
		timeout: timeout,
		log:     log.With().Str("component", "http-executor").Logger(),
	}
}

// Invoke POSTs the payload and returns the response body.
func (h *HTTP) Invoke(ctx context.Context, kind credit.Kind, operand1 float64, operand2 *float64) string {
	body, err := NewPayload(kind, operand1, operand2).Marshal()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode payload")
		return credit.ProviderFailure
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build request")
		return credit.ProviderFailure
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn().Err(err).Str("kind", kind.String()).Msg("executor call failed")
		return credit.ProviderFailure
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to read executor response")
		return credit.ProviderFailure
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.log.Warn().Int("status", resp.StatusCode).Str("body", string(out)).Msg("executor returned error status")
		return credit.ProviderFailure
	}
	return string(out)
}

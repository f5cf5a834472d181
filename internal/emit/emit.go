// Package emit implements the emitter stage of the pipeline: it
// consumes ValidatorBan envelopes and POSTs each ban to every
// configured executor URL, retrying transient failures at a fixed
// interval before dropping the ban.
package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"banwatch/internal/model"
	"banwatch/internal/telemetry"
	"banwatch/pkg/metrics"
)

// Client is the delivery mechanism a ban is POSTed through. The real
// client issues an HTTP request per URL; the dry-run client logs and
// always succeeds.
type Client interface {
	Send(ctx context.Context, url string, body []byte, analyzerHeader string) error
}

// HTTPClient posts ban bodies to executor URLs.
type HTTPClient struct {
	hc *http.Client
}

// NewHTTPClient builds an HTTPClient with the given per-request timeout.
// A zero timeout leaves the client's default (no deadline) in place.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{hc: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Send(ctx context.Context, url string, body []byte, analyzerHeader string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Analyzer-Id", analyzerHeader)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errEmitTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: executor returned %d", errEmitTransient, resp.StatusCode)
	}
	return nil
}

var errEmitTransient = fmt.Errorf("emit transient failure")

// NoopClient is the dry-run executor client: it logs and always succeeds.
type NoopClient struct{}

func (NoopClient) Send(_ context.Context, url string, _ []byte, analyzerHeader string) error {
	log.Warn().Str("url", url).Str("analyzer_header", analyzerHeader).Msg("dry_run_emit")
	return nil
}

// Emitter consumes bans from in and delivers them to every configured
// executor URL.
type Emitter struct {
	client        Client
	urls          []string
	analyzerID    string
	retryCount    int
	retryInterval time.Duration
	in            <-chan model.ValidatorBan
	tracer        *telemetry.Provider
	done          chan struct{}
}

// New constructs an Emitter. retryCount is the number of retries after
// the first attempt, so total attempts per URL = 1 + retryCount.
func New(client Client, urls []string, analyzerID string, retryCount int, retryInterval time.Duration, in <-chan model.ValidatorBan, tracer *telemetry.Provider) *Emitter {
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	return &Emitter{
		client:        client,
		urls:          urls,
		analyzerID:    analyzerID,
		retryCount:    retryCount,
		retryInterval: retryInterval,
		in:            in,
		tracer:        tracer,
		done:          make(chan struct{}),
	}
}

// Done is closed when Run returns. Upstream producers select on it
// while sending so a dead emitter surfaces as a closed queue instead of
// a send that blocks forever.
func (e *Emitter) Done() <-chan struct{} { return e.done }

// Run drains in until it is closed or ctx is cancelled. A closed in is
// a downstream-visible queue teardown and surfaces as ErrChannelClosed.
func (e *Emitter) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vb, ok := <-e.in:
			if !ok {
				log.Info().Msg("emitter_stopping: validation channel closed")
				return model.ErrChannelClosed
			}
			e.deliver(ctx, vb)
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, vb model.ValidatorBan) {
	body, err := json.Marshal(vb.Ban)
	if err != nil {
		log.Error().Err(err).Msg("marshal_ban_error")
		return
	}
	header := fmt.Sprintf("%s:%s", e.analyzerID, vb.ValidatorName)

	for _, url := range e.urls {
		if err := e.deliverOne(ctx, url, body, header); err != nil {
			log.Error().Err(err).Str("url", url).Str("validator", vb.ValidatorName).Msg("ban_dropped")
			metrics.EmitAttempts.WithLabelValues("dropped").Inc()
		} else {
			metrics.EmitAttempts.WithLabelValues("success").Inc()
		}
	}
}

// deliverOne runs the fixed-interval retry loop for a single executor
// URL: 1 + retryCount total attempts.
func (e *Emitter) deliverOne(ctx context.Context, url string, body []byte, header string) error {
	var lastErr error
	for attempt := 0; attempt <= e.retryCount; attempt++ {
		if attempt > 0 {
			metrics.EmitAttempts.WithLabelValues("retry").Inc()
			select {
			case <-time.After(e.retryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attemptCtx, span := e.tracer.StartEmitAttemptSpan(ctx, url, attempt)
		if err := e.client.Send(attemptCtx, url, body, header); err != nil {
			telemetry.EndEmitAttemptSpan(span, "failure", err)
			lastErr = err
			continue
		}
		telemetry.EndEmitAttemptSpan(span, "success", nil)
		return nil
	}
	return lastErr
}

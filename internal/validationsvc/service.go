// Package validationsvc implements the evaluate stage of the pipeline:
// it owns the configured detector slice and, for every incoming
// request, runs it through each detector in turn, forwarding any
// resulting ban to the emit stage.
package validationsvc

import (
	"context"

	"github.com/rs/zerolog/log"

	"banwatch/internal/model"
	"banwatch/internal/telemetry"
	"banwatch/internal/validator"
	"banwatch/pkg/metrics"
)

// Service runs a fixed set of validators against every request it
// receives from in, forwarding bans to out. It owns no goroutines of
// its own beyond the one that calls Run.
type Service struct {
	validators  []validator.Validator
	in          <-chan model.Request
	out         chan<- model.ValidatorBan
	emitterDown <-chan struct{}
	tracer      *telemetry.Provider
}

// New constructs a Service. The validator slice is iterated in order
// for every request; order does not affect correctness since each
// detector owns disjoint state, but it does determine which ban wins
// a race to fill a bounded out channel first.
//
// emitterDown is closed when the consumer of out has stopped; a Go
// send to a closed channel panics, so the dead-consumer case is
// detected through this signal instead. nil means no such signal.
func New(validators []validator.Validator, in <-chan model.Request, out chan<- model.ValidatorBan, emitterDown <-chan struct{}, tracer *telemetry.Provider) *Service {
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	return &Service{validators: validators, in: in, out: out, emitterDown: emitterDown, tracer: tracer}
}

// Run drains in until it is closed, applying every validator to each
// request and forwarding bans to out. A validator error is logged and
// that validator is skipped for this request only; it never halts the
// service or affects other detectors. Run returns ErrChannelClosed
// when in is closed (the upstream queue was torn down), or ctx.Err()
// if the pipeline was cancelled because some other stage failed.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-s.in:
			if !ok {
				log.Info().Msg("validation_service_stopping: ingest channel closed")
				return model.ErrChannelClosed
			}
			if err := s.evaluate(ctx, req); err != nil {
				return err
			}
		}
	}
}

func (s *Service) evaluate(ctx context.Context, req model.Request) error {
	for _, v := range s.validators {
		_, span := s.tracer.StartValidateSpan(ctx, v.Name())
		ban, err := v.Validate(req)
		telemetry.EndValidateSpan(span, ban != nil, err)
		if err != nil {
			log.Error().Err(err).Str("validator", v.Name()).Msg("validator_error")
			metrics.ValidatorErrors.WithLabelValues(v.Name()).Inc()
			continue
		}
		if ban == nil {
			continue
		}
		vb := model.ValidatorBan{Ban: *ban, ValidatorName: v.Name()}
		select {
		case s.out <- vb:
			metrics.BansEmitted.WithLabelValues(v.Name()).Inc()
			metrics.QueueDepth.WithLabelValues("emit").Set(float64(len(s.out)))
		case <-s.emitterDown:
			log.Error().Str("validator", v.Name()).Msg("emit_queue_gone")
			return model.ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

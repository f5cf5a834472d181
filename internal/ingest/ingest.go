// Package ingest implements the bus-polling stage of the pipeline: it
// polls a Kafka-compatible bus, decodes each message as a JSON array
// of Requests, and hands them off to the validation service over a
// bounded queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"banwatch/internal/model"
	"banwatch/internal/telemetry"
	"banwatch/pkg/config"
	"banwatch/pkg/metrics"
)

// Ingestor polls the bus and flattens decoded requests onto out.
type Ingestor struct {
	client         *kgo.Client
	consumingDelay time.Duration
	out            chan<- model.Request
	tracer         *telemetry.Provider
}

// New constructs an Ingestor from the kafka section of the analyzer
// config. The bus-client handle lives here alone; no other stage ever
// touches it.
func New(cfg config.Kafka, out chan<- model.Request, tracer *telemetry.Provider) (*Ingestor, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka.brokers must not be empty", errConfigInvalid)
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("%w: kafka.group must not be empty", errConfigInvalid)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.AckTimeout > 0 {
		opts = append(opts, kgo.FetchMaxWait(cfg.AckTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfigInvalid, err)
	}

	delay := cfg.ConsumingDelay
	if delay <= 0 {
		delay = time.Second
	}
	if tracer == nil {
		tracer = telemetry.Noop()
	}

	return &Ingestor{client: client, consumingDelay: delay, out: out, tracer: tracer}, nil
}

var errConfigInvalid = fmt.Errorf("ingest config invalid")

// Run polls the bus until ctx is cancelled or out is no longer drained,
// decoding each batch and flattening it onto out in order. Run only
// returns on context cancellation (clean shutdown); a poll error is
// logged and retried on the next iteration.
func (ing *Ingestor) Run(ctx context.Context) error {
	defer ing.client.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetches := ing.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				log.Error().Err(e.Err).Str("topic", e.Topic).Int32("partition", e.Partition).Msg("bus_poll_error")
			}
			if err := sleepCtx(ctx, ing.consumingDelay); err != nil {
				return err
			}
			continue
		}

		if fetches.Empty() {
			if err := sleepCtx(ctx, ing.consumingDelay); err != nil {
				return err
			}
			continue
		}

		if err := ing.handleFetches(ctx, fetches); err != nil {
			return err
		}
	}
}

func (ing *Ingestor) handleFetches(ctx context.Context, fetches kgo.Fetches) error {
	ctx, span := ing.tracer.StartIngestBatchSpan(ctx)
	flattened := 0
	var batchErr error
	defer func() { telemetry.EndIngestBatchSpan(span, flattened, batchErr) }()

	iter := fetches.RecordIter()
	for !iter.Done() {
		record := iter.Next()

		var reqs []model.Request
		if err := json.Unmarshal(record.Value, &reqs); err != nil {
			log.Error().Err(err).Str("topic", record.Topic).Msg("decode_error")
			metrics.DecodeErrors.Inc()
			continue
		}

		for _, req := range reqs {
			select {
			case ing.out <- req:
				flattened++
				metrics.QueueDepth.WithLabelValues("ingest").Set(float64(len(ing.out)))
			case <-ctx.Done():
				batchErr = ctx.Err()
				return batchErr
			}
		}
	}

	if err := ing.client.CommitUncommittedOffsets(ctx); err != nil {
		log.Error().Err(err).Msg("bus_commit_error")
	}
	return nil
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes
// first, so shutdown never waits out a consuming delay.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

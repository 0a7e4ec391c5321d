package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fanstream-video/internal/models"
	"fanstream-video/internal/observability/metrics"
	"fanstream-video/internal/storage"
)

// Outcome classifies what a processed delivery did to local state.
type Outcome string

const (
	// OutcomeApplied means the delivery advanced or enriched a local record.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored means the delivery was valid but produced no change,
	// either because the event type is unknown or the record already
	// reflects it.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnmatched means no local record correlates with the delivery.
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeDuplicate means the delivery id was already processed.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result reports how a delivery was handled. Asset is populated for applied
// and ignored outcomes that resolved a local record.
type Result struct {
	Outcome Outcome
	Event   Event
	Asset   models.VideoAsset
	Matched bool
}

// Processor applies parsed webhook events to the asset store. It owns the
// idempotency rules: duplicate deliveries, unknown event types, and
// deliveries for settled records all acknowledge without mutation, while
// persistence failures propagate so the endpoint can request a retry.
type Processor struct {
	store   storage.Repository
	deduper Deduper
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// ProcessorConfig wires a Processor's collaborators. Store is required; a
// nil Deduper disables replay suppression and a nil Logger falls back to the
// process default.
type ProcessorConfig struct {
	Store   storage.Repository
	Deduper Deduper
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewProcessor constructs a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("webhook processor requires a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   cfg.Store,
		deduper: cfg.Deduper,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Process applies one parsed event. Returned errors always indicate a
// transient persistence problem; every terminal condition resolves to an
// acknowledged Result instead.
func (p *Processor) Process(ctx context.Context, event Event) (Result, error) {
	logger := p.logger.With(
		slog.String("event", event.RawType),
		slog.String("deliveryId", event.DeliveryID),
		slog.String("assetId", event.Asset.AssetID),
		slog.String("uploadId", event.Asset.UploadID),
	)

	if p.deduper != nil && event.DeliveryID != "" {
		seen, err := p.deduper.Seen(ctx, event.DeliveryID)
		if err != nil {
			// Dedup store trouble must not drop deliveries; fall through
			// and rely on transition idempotency instead.
			logger.Warn("webhook dedup check failed", slog.String("error", err.Error()))
		} else if seen {
			logger.Info("webhook delivery replayed")
			p.observe(event, OutcomeDuplicate)
			return Result{Outcome: OutcomeDuplicate, Event: event}, nil
		}
	}

	if event.Kind == EventUnknown {
		logger.Info("webhook event type not handled")
		p.observe(event, OutcomeIgnored)
		p.markProcessed(ctx, logger, event)
		return Result{Outcome: OutcomeIgnored, Event: event}, nil
	}
	if event.Asset.AssetID == "" && event.Asset.UploadID == "" {
		logger.Warn("webhook event carries no correlation ids")
		p.observe(event, OutcomeUnmatched)
		p.markProcessed(ctx, logger, event)
		return Result{Outcome: OutcomeUnmatched, Event: event}, nil
	}

	ref := storage.AssetRef{AssetID: event.Asset.AssetID, UploadID: event.Asset.UploadID}
	applied, err := p.apply(ctx, ref, event)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A delivery for an asset we never initiated is an anomaly worth
			// logging, but retrying it would never succeed.
			logger.Warn("webhook event matches no local record")
			p.observe(event, OutcomeUnmatched)
			p.markProcessed(ctx, logger, event)
			return Result{Outcome: OutcomeUnmatched, Event: event}, nil
		}
		// The delivery id stays unrecorded so the provider's redelivery is
		// applied instead of suppressed as a replay.
		logger.Error("webhook event apply failed", slog.String("error", err.Error()))
		return Result{}, fmt.Errorf("apply %s: %w", event.RawType, err)
	}

	outcome := OutcomeIgnored
	if applied.Changed {
		outcome = OutcomeApplied
		if p.metrics != nil {
			p.metrics.ObserveTransition(string(applied.Previous), string(applied.Asset.Status))
			if applied.Asset.Status.Terminal() || applied.Asset.Status == models.AssetStatusReady {
				p.metrics.UploadSettled(event.RawType)
			}
		}
		logger.Info("webhook event applied",
			slog.String("from", string(applied.Previous)),
			slog.String("to", string(applied.Asset.Status)))
	} else {
		logger.Info("webhook event left record unchanged",
			slog.String("status", string(applied.Asset.Status)))
	}
	p.observe(event, outcome)
	p.markProcessed(ctx, logger, event)
	return Result{Outcome: outcome, Event: event, Asset: applied.Asset, Matched: true}, nil
}

// markProcessed records the delivery id once its side effects are in place.
// Recording is best-effort; a replay slipping past a broken dedup store is
// absorbed by transition idempotency.
func (p *Processor) markProcessed(ctx context.Context, logger *slog.Logger, event Event) {
	if p.deduper == nil || event.DeliveryID == "" {
		return
	}
	if err := p.deduper.Record(ctx, event.DeliveryID); err != nil {
		logger.Warn("webhook dedup record failed", slog.String("error", err.Error()))
	}
}

func (p *Processor) apply(ctx context.Context, ref storage.AssetRef, event Event) (storage.ApplyResult, error) {
	switch event.Kind {
	case EventAssetCreated:
		return p.store.ApplyAssetCreated(ctx, ref, storage.AssetCreatedUpdate{
			AssetID:     event.Asset.AssetID,
			PlaybackID:  event.Asset.PlaybackID,
			Duration:    event.Asset.Duration,
			AspectRatio: event.Asset.AspectRatio,
		})
	case EventAssetReady:
		return p.store.ApplyAssetReady(ctx, ref, storage.AssetReadyUpdate{
			AssetID:       event.Asset.AssetID,
			PlaybackID:    event.Asset.PlaybackID,
			Duration:      event.Asset.Duration,
			AspectRatio:   event.Asset.AspectRatio,
			MaxResolution: event.Asset.MaxResolution,
		})
	case EventAssetErrored:
		errorsCopy := make([]models.AssetError, len(event.Asset.Errors))
		copy(errorsCopy, event.Asset.Errors)
		if len(errorsCopy) == 0 {
			errorsCopy = append(errorsCopy, models.AssetError{Type: "unknown", Messages: []string{"asset processing failed"}})
		}
		return p.store.ApplyAssetErrored(ctx, ref, storage.AssetErroredUpdate{Errors: errorsCopy})
	case EventAssetUpdated:
		return p.store.ApplyAssetUpdated(ctx, ref, storage.AssetMetadataUpdate{
			PlaybackID:    event.Asset.PlaybackID,
			Duration:      event.Asset.Duration,
			AspectRatio:   event.Asset.AspectRatio,
			MaxResolution: event.Asset.MaxResolution,
		})
	default:
		return storage.ApplyResult{}, fmt.Errorf("unhandled event kind %q", event.Kind)
	}
}

func (p *Processor) observe(event Event, outcome Outcome) {
	if p.metrics == nil {
		return
	}
	p.metrics.ObserveWebhookEvent(event.RawType, string(outcome))
}

// Package processor implements the background loop that drives pending
// events through the lifecycle with simulated work and bounded retries.
package processor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"corporate-actions/internal/logging"
	"corporate-actions/internal/metrics"
	"corporate-actions/internal/models"
	"corporate-actions/internal/service"
	"corporate-actions/internal/store"
)

// actor recorded on transitions performed by the processor.
const actor = "processor"

const retryErrorMessage = "Simulated processing failure (will retry)"

// Config holds background processor configuration.
type Config struct {
	// FailureRate is the probability of a simulated failure (0.0 to 1.0).
	FailureRate float64
	// ProcessingDelay is how long each event is held to simulate work.
	ProcessingDelay time.Duration
	// PollInterval is the time between poll cycles.
	PollInterval time.Duration
	// BatchSize bounds how many PENDING events one cycle picks up.
	BatchSize int
	// MaxRetries is the retry budget before an event is marked FAILED.
	MaxRetries int
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		FailureRate:     0.05,
		ProcessingDelay: 1500 * time.Millisecond,
		PollInterval:    time.Second,
		BatchSize:       10,
		MaxRetries:      3,
	}
}

// FailurePolicy decides whether a processing attempt fails. Injectable
// so tests can force each branch deterministically.
type FailurePolicy func() bool

// SeededFailurePolicy returns a policy that fails with probability rate
// using a seeded source.
func SeededFailurePolicy(rate float64, seed int64) FailurePolicy {
	rng := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64() < rate
	}
}

// NeverFail returns a policy under which processing always succeeds.
func NeverFail() FailurePolicy {
	return func() bool { return false }
}

// AlwaysFail returns a policy under which every attempt is a retry.
func AlwaysFail() FailurePolicy {
	return func() bool { return true }
}

// Processor polls the store for pending events and drives each through
// the lifecycle service, applying the retry/failure policy. It owns its
// cancellation signal and runs independently of request handling.
type Processor struct {
	service *service.EventService
	store   store.EventStore
	config  Config
	policy  FailurePolicy
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new background processor. A nil policy defaults to a
// seeded random policy at the configured failure rate.
func New(svc *service.EventService, st store.EventStore, cfg Config, policy FailurePolicy, logger zerolog.Logger) *Processor {
	if policy == nil {
		policy = SeededFailurePolicy(cfg.FailureRate, time.Now().UnixNano())
	}
	return &Processor{
		service: svc,
		store:   st,
		config:  cfg,
		policy:  policy,
		logger:  logging.WithComponent(logger, "processor"),
	}
}

// Start launches the processing loop. Starting an already-running
// processor is a no-op with a warning.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("Processor already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)
	p.logger.Info().
		Dur("poll_interval", p.config.PollInterval).
		Int("batch_size", p.config.BatchSize).
		Msg("Event processor started")
}

// Stop signals the loop to exit at the next cycle boundary and waits
// for it with a bounded timeout, returning regardless of whether the
// loop actually exited.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.logger.Warn().Msg("Timed out waiting for processor loop to exit")
	}
	p.running = false
	p.logger.Info().Msg("Event processor stopped")
}

// IsRunning reports whether the loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// loop is the main poll loop. A single event's failure never halts it.
func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processPending(ctx); err != nil {
				p.logger.Error().Err(err).Msg("Error in processor cycle")
			}
		}
	}
}

// processPending runs one poll cycle: fetch a bounded batch of PENDING
// events and process each in turn.
//
// Cancellation is honored only between events. An event already picked
// up must reach COMPLETED, PENDING or FAILED even while the processor
// is stopping, so the per-event transitions run on a context detached
// from the loop's cancellation; otherwise a stop mid-delay would strand
// it in PROCESSING, a status the poll never fetches.
func (p *Processor) processPending(ctx context.Context) error {
	events, _, err := p.service.List(ctx, store.EventFilter{
		Status: models.StatusPending,
		Limit:  p.config.BatchSize,
	})
	if err != nil {
		return err
	}
	metrics.PendingBatch.Set(float64(len(events)))

	work := context.WithoutCancel(ctx)
	for i := range events {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		p.processOne(work, &events[i])
	}
	return nil
}

// processOne drives a single event: mark it PROCESSING, hold for the
// configured delay, then apply the retry/failure policy. Any error is
// logged and the event is marked FAILED best-effort.
func (p *Processor) processOne(ctx context.Context, event *models.Event) {
	start := time.Now()
	logger := logging.WithEventID(p.logger, event.ID)

	if _, err := p.service.Transition(ctx, event.ID, models.StatusProcessing, actor, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to mark event processing")
		p.failBestEffort(ctx, event.ID, err.Error())
		return
	}

	logger.Info().Str("event_type", string(event.EventType)).Msg("Processing event")
	time.Sleep(p.config.ProcessingDelay)

	var err error
	switch {
	case event.RetryCount >= p.config.MaxRetries:
		// Retry budget exhausted; this takes priority over failure injection.
		msg := fmt.Sprintf("Max retries (%d) exceeded", p.config.MaxRetries)
		logger.Error().Str("error", msg).Msg("Event permanently failed")
		_, err = p.service.Transition(ctx, event.ID, models.StatusFailed, actor, &msg)
		metrics.EventsProcessed.WithLabelValues("failed").Inc()

	case p.policy():
		msg := retryErrorMessage
		logger.Warn().Str("error", msg).Msg("Event failed, scheduling retry")
		_, err = p.service.Transition(ctx, event.ID, models.StatusPending, actor, &msg)
		metrics.EventsProcessed.WithLabelValues("retried").Inc()

	default:
		logger.Info().Msg("Event completed successfully")
		_, err = p.service.Transition(ctx, event.ID, models.StatusCompleted, actor, nil)
		metrics.EventsProcessed.WithLabelValues("completed").Inc()
	}

	if err != nil {
		logger.Error().Err(err).Msg("Error processing event")
		p.failBestEffort(ctx, event.ID, err.Error())
	}

	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}

// failBestEffort attempts to mark an event FAILED; failure to do even
// that is logged and the loop continues.
func (p *Processor) failBestEffort(ctx context.Context, eventID int64, reason string) {
	if _, err := p.service.Transition(ctx, eventID, models.StatusFailed, actor, &reason); err != nil {
		p.logger.Error().Err(err).Int64("event_id", eventID).Msg("Failed to mark event failed")
	}
}

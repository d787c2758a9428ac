package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/trail/pkg/classify"
	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/session"
	"github.com/cuemby/trail/pkg/storage"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is how many entries one flush considers
const DefaultBatchSize = 25

// Deliverer sends one entry to the remote
type Deliverer interface {
	Deliver(ctx context.Context, entry *types.BufferedEntry) (*types.Record, error)
}

// Owner supplies the id of the signed-in user
type Owner interface {
	UserID() string
}

// Result is the outcome of one flush
type Result struct {
	Outcome types.Outcome
	// Flushed counts entries confirmed by the remote and deleted
	Flushed int
	// Discarded counts entries deleted for belonging to another user
	Discarded int
	// Classification and Err describe the failure that stopped the flush
	Classification classify.Classification
	Err            error
}

// OK reports whether every attempted entry was delivered
func (r Result) OK() bool {
	return r.Outcome == types.OutcomeSuccess
}

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("flushed %d", r.Flushed)
	}
	return fmt.Sprintf("%s after %d flushed: %v", r.Outcome, r.Flushed, r.Err)
}

// Engine drains the queue oldest-first, one entry at a time
type Engine struct {
	queue    storage.Queue
	client   Deliverer
	owner    Owner
	reporter *classify.Reporter
	broker   *events.Broker
	now      func() time.Time
	logger   zerolog.Logger

	// flushes never overlap
	mu sync.Mutex
}

// NewEngine creates a sync engine
func NewEngine(queue storage.Queue, client Deliverer, owner Owner, reporter *classify.Reporter, broker *events.Broker) *Engine {
	if reporter == nil {
		reporter = classify.NewReporter(classify.DefaultReportWindow)
	}
	return &Engine{
		queue:    queue,
		client:   client,
		owner:    owner,
		reporter: reporter,
		broker:   broker,
		now:      time.Now,
		logger:   log.WithComponent("syncer"),
	}
}

// Flush delivers up to maxBatch of the oldest entries. It stops at the first
// failed delivery so a newer sample never overtakes an older one, and deletes
// only entries whose delivery was confirmed (or that belong to another user).
// Flush never panics or returns an error; the failure is in the Result.
func (e *Engine) Flush(ctx context.Context, maxBatch int) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxBatch <= 0 {
		maxBatch = DefaultBatchSize
	}

	timer := metrics.NewTimer()
	result := e.flush(ctx, maxBatch)
	timer.ObserveDuration(metrics.FlushDuration)
	metrics.FlushesTotal.WithLabelValues(string(result.Outcome)).Inc()

	if n, err := e.queue.Len(); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}

	e.publish(result)
	return result
}

func (e *Engine) flush(ctx context.Context, maxBatch int) Result {
	entries, err := e.queue.Oldest(maxBatch)
	if err != nil {
		return e.fail(Result{}, classify.Classify(0, err), fmt.Errorf("failed to read queue: %w", err))
	}
	if len(entries) == 0 {
		return Result{Outcome: types.OutcomeSuccess}
	}

	owner := e.owner.UserID()
	if owner == "" {
		// Keep the backlog: the next login decides whether it is theirs.
		return Result{
			Outcome:        types.OutcomeAuthFailure,
			Classification: classify.Classification{Class: classify.AuthRequired},
			Err:            session.ErrNoSession,
		}
	}

	var (
		result    Result
		delivered []uint64
		discarded []uint64
		failed    bool
	)

	for _, entry := range entries {
		if entry.OwnerUserID != owner {
			discarded = append(discarded, entry.ID)
			e.logger.Info().
				Str("entry_id", strconv.FormatUint(entry.ID, 10)).
				Str("owner", entry.OwnerUserID).
				Msg("Discarding entry recorded for another user")
			continue
		}

		if err := ctx.Err(); err != nil {
			result = e.fail(result, classify.Classify(0, err), err)
			failed = true
			break
		}

		record, err := e.client.Deliver(ctx, entry)
		if err == nil {
			delivered = append(delivered, entry.ID)
			if record != nil {
				e.logger.Debug().
					Str("entry_id", strconv.FormatUint(entry.ID, 10)).
					Str("record_id", record.ID).
					Msg("Entry delivered")
			}
			continue
		}

		c := classify.Classify(0, err)
		if markErr := e.queue.MarkAttempt(entry.ID, e.now(), err.Error()); markErr != nil {
			e.logger.Warn().Err(markErr).Msg("Failed to record delivery attempt")
		}
		result = e.fail(result, c, err)
		failed = true
		break
	}

	// Delete confirmed and foreign entries in one batch, even if the loop
	// stopped early.
	remove := append(append([]uint64(nil), delivered...), discarded...)
	if err := e.queue.DeleteByIDs(remove); err != nil {
		e.logger.Error().Err(err).Int("count", len(remove)).Msg("Failed to delete flushed entries")
	}

	result.Flushed = len(delivered)
	result.Discarded = len(discarded)
	metrics.EntriesDelivered.Add(float64(len(delivered)))
	metrics.EntriesDiscarded.Add(float64(len(discarded)))

	if !failed {
		result.Outcome = types.OutcomeSuccess
	}
	return result
}

// fail fills in the classified failure and reports fatal ones
func (e *Engine) fail(r Result, c classify.Classification, err error) Result {
	r.Classification = c
	r.Err = err

	switch c.Class {
	case classify.Transient:
		r.Outcome = types.OutcomeTransientFailure
		e.logger.Debug().Err(err).Msg("Transient delivery failure, will retry")
	case classify.AuthRequired:
		r.Outcome = types.OutcomeAuthFailure
		e.logger.Debug().Int("status", c.Status).Msg("Delivery not authorized")
	default:
		r.Outcome = types.OutcomeFatal
		e.reporter.Report(c, err)
	}
	return r
}

func (e *Engine) publish(r Result) {
	meta := map[string]string{
		"flushed":   strconv.Itoa(r.Flushed),
		"discarded": strconv.Itoa(r.Discarded),
		"outcome":   string(r.Outcome),
	}
	if r.OK() {
		if r.Flushed == 0 && r.Discarded == 0 {
			return
		}
		e.broker.Publish(&events.Event{Type: events.EventFlushCompleted, Message: r.String(), Metadata: meta})
		return
	}
	e.broker.Publish(&events.Event{Type: events.EventFlushFailed, Message: r.String(), Metadata: meta})
}

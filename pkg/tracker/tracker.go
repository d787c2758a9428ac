package tracker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
)

// Sampler turns raw fixes into samples worth keeping
type Sampler interface {
	Accept(fix types.Fix) (*types.LocationSample, bool)
}

// Queue is the part of the durable queue the persister writes to
type Queue interface {
	Insert(sample *types.LocationSample) (uint64, error)
	Len() (int, error)
}

// Flusher drains the queue
type Flusher interface {
	Flush(ctx context.Context, maxBatch int) syncer.Result
}

// Config controls when the pipeline flushes
type Config struct {
	BatchSize int
	// FlushInterval is the period of the background flush
	FlushInterval time.Duration
	// FlushThreshold requests a flush after an insert once this many
	// entries are waiting; zero disables it
	FlushThreshold int
	// Buffer is the capacity of the sampler to persister hand-off
	Buffer int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		BatchSize:      syncer.DefaultBatchSize,
		FlushInterval:  60 * time.Second,
		FlushThreshold: 5,
		Buffer:         64,
	}
}

// Tracker runs the pipeline in three goroutines: intake samples the fix
// stream, the persister writes every accepted sample to the queue, and the
// flusher drains the queue. Persistence never waits on the network, and
// flushes never overlap.
type Tracker struct {
	cfg     Config
	sampler Sampler
	queue   Queue
	flusher Flusher
	broker  *events.Broker
	logger  zerolog.Logger

	samples  chan *types.LocationSample
	flushReq chan string
	drained  chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	running bool
}

// NewTracker creates a tracker
func NewTracker(cfg Config, s Sampler, queue Queue, flusher Flusher, broker *events.Broker) *Tracker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}

	return &Tracker{
		cfg:      cfg,
		sampler:  s,
		queue:    queue,
		flusher:  flusher,
		broker:   broker,
		logger:   log.WithComponent("tracker"),
		flushReq: make(chan string, 1),
		drained:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start consumes fixes until the channel closes, ctx is cancelled or Stop
// is called. A closed fix channel runs a final flush once every accepted
// sample is queued.
func (t *Tracker) Start(ctx context.Context, fixes <-chan types.Fix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.samples = make(chan *types.LocationSample, t.cfg.Buffer)

	metrics.RegisterComponent(metrics.ComponentTracker, true, "running")

	t.wg.Add(3)
	go t.intake(ctx, fixes)
	go t.persist()
	go t.flushLoop(ctx)

	go func() {
		t.wg.Wait()
		metrics.UpdateComponent(metrics.ComponentTracker, false, "stopped")
		close(t.done)
	}()
}

// Stop cancels the pipeline and waits for it. Accepted samples still in the
// hand-off are queued first; an in-flight flush is abandoned and undelivered
// entries stay queued.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	running := t.running
	t.mu.Unlock()

	if !running {
		return
	}
	cancel()
	<-t.done
}

// Done is closed once the tracker has stopped
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// RequestFlush asks the flusher for a flush. Requests made while one is
// pending coalesce.
func (t *Tracker) RequestFlush() {
	t.requestFlush("requested")
}

func (t *Tracker) requestFlush(trigger string) {
	select {
	case t.flushReq <- trigger:
	default:
	}
}

// intake owns t.samples and closes it on exit.
func (t *Tracker) intake(ctx context.Context, fixes <-chan types.Fix) {
	defer t.wg.Done()
	defer close(t.samples)

	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				t.logger.Debug().Msg("Fix stream closed")
				return
			}
			sample, accepted := t.sampler.Accept(fix)
			if !accepted {
				continue
			}
			// The sampler has moved its cursor past this sample, so it must
			// reach the queue. The persister reads until the channel closes.
			t.samples <- sample
		}
	}
}

// persist writes samples until intake closes the hand-off, including those
// still buffered after a cancel.
func (t *Tracker) persist() {
	defer t.wg.Done()
	defer close(t.drained)

	for sample := range t.samples {
		t.insert(sample)
	}
}

func (t *Tracker) insert(sample *types.LocationSample) {
	id, err := t.queue.Insert(sample)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentQueue, false, err.Error())
		t.logger.Error().Err(err).Msg("Failed to persist sample")
		return
	}
	metrics.UpdateComponent(metrics.ComponentQueue, true, "")

	t.broker.Publish(&events.Event{
		Type:    events.EventSampleAccepted,
		Message: "sample queued",
		Metadata: map[string]string{
			"entry_id": strconv.FormatUint(id, 10),
		},
	})

	if t.cfg.FlushThreshold <= 0 {
		return
	}
	n, err := t.queue.Len()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to read queue depth")
		return
	}
	if n >= t.cfg.FlushThreshold {
		t.requestFlush("threshold")
	}
}

func (t *Tracker) flushLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.drained:
			if ctx.Err() == nil {
				t.flush(ctx, "drain")
			}
			return
		case <-ticker.C:
			t.flush(ctx, "interval")
		case trigger := <-t.flushReq:
			t.flush(ctx, trigger)
		}
	}
}

func (t *Tracker) flush(ctx context.Context, trigger string) {
	result := t.flusher.Flush(ctx, t.cfg.BatchSize)
	event := t.logger.Debug()
	if !result.OK() {
		event = t.logger.Info()
	}
	event.Str("trigger", trigger).Str("outcome", string(result.Outcome)).Int("flushed", result.Flushed).Msg("Flush finished")
}

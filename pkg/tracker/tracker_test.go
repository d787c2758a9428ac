package tracker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptFunc func(types.Fix) (*types.LocationSample, bool)

func (f acceptFunc) Accept(fix types.Fix) (*types.LocationSample, bool) { return f(fix) }

func acceptAll(fix types.Fix) (*types.LocationSample, bool) {
	return &types.LocationSample{
		OwnerUserID: "user-1",
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		Accuracy:    fix.Accuracy,
		RecordedAt:  fix.Timestamp,
	}, true
}

type memQueue struct {
	mu      sync.Mutex
	samples []*types.LocationSample
	// gate, when set, holds every Insert until it is closed
	gate chan struct{}
}

func (q *memQueue) Insert(s *types.LocationSample) (uint64, error) {
	if q.gate != nil {
		<-q.gate
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.samples = append(q.samples, s)
	return uint64(len(q.samples)), nil
}

func (q *memQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples), nil
}

type recordingFlusher struct {
	calls    atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
	block    bool
}

func (f *recordingFlusher) Flush(ctx context.Context, maxBatch int) syncer.Result {
	if f.active.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.active.Add(-1)
	f.calls.Add(1)

	if f.block {
		<-ctx.Done()
		return syncer.Result{Outcome: types.OutcomeTransientFailure, Err: ctx.Err()}
	}
	time.Sleep(time.Millisecond)
	return syncer.Result{Outcome: types.OutcomeSuccess}
}

func fixAt(i int) types.Fix {
	return types.Fix{
		Latitude:  40.0 + float64(i)*0.001,
		Longitude: -3.0,
		Accuracy:  10,
		Timestamp: time.Unix(1700000000+int64(i)*30, 0).UTC(),
	}
}

func quietConfig() Config {
	return Config{BatchSize: 25, FlushInterval: time.Hour, Buffer: 16}
}

func TestTracker_PersistsAcceptedAndDrainsOnClose(t *testing.T) {
	queue := &memQueue{}
	flusher := &recordingFlusher{}
	tr := NewTracker(quietConfig(), acceptFunc(acceptAll), queue, flusher, nil)

	fixes := make(chan types.Fix)
	tr.Start(context.Background(), fixes)
	for i := 0; i < 3; i++ {
		fixes <- fixAt(i)
	}
	close(fixes)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop after the fix stream closed")
	}

	n, _ := queue.Len()
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(1), flusher.calls.Load(), "closing the stream runs one final flush")
}

func TestTracker_RejectedFixesAreNotQueued(t *testing.T) {
	queue := &memQueue{}
	rejectOdd := func(fix types.Fix) (*types.LocationSample, bool) {
		if int(fix.Latitude*1000)%2 == 1 {
			return nil, false
		}
		return acceptAll(fix)
	}
	tr := NewTracker(quietConfig(), acceptFunc(rejectOdd), queue, &recordingFlusher{}, nil)

	fixes := make(chan types.Fix, 4)
	for i := 0; i < 4; i++ {
		fixes <- types.Fix{Latitude: float64(i) / 1000, Accuracy: 5}
	}
	close(fixes)
	tr.Start(context.Background(), fixes)
	<-tr.Done()

	n, _ := queue.Len()
	assert.Equal(t, 2, n)
}

func TestTracker_FlushesAtThreshold(t *testing.T) {
	queue := &memQueue{}
	flusher := &recordingFlusher{}
	cfg := quietConfig()
	cfg.FlushThreshold = 2
	tr := NewTracker(cfg, acceptFunc(acceptAll), queue, flusher, nil)

	fixes := make(chan types.Fix)
	tr.Start(context.Background(), fixes)
	defer tr.Stop()

	fixes <- fixAt(0)
	fixes <- fixAt(1)

	require.Eventually(t, func() bool {
		return flusher.calls.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTracker_FlushesOnInterval(t *testing.T) {
	flusher := &recordingFlusher{}
	cfg := quietConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	tr := NewTracker(cfg, acceptFunc(acceptAll), &memQueue{}, flusher, nil)

	tr.Start(context.Background(), make(chan types.Fix))
	defer tr.Stop()

	require.Eventually(t, func() bool {
		return flusher.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, flusher.overlaps.Load())
}

func TestTracker_RequestFlush(t *testing.T) {
	flusher := &recordingFlusher{}
	tr := NewTracker(quietConfig(), acceptFunc(acceptAll), &memQueue{}, flusher, nil)

	tr.Start(context.Background(), make(chan types.Fix))
	defer tr.Stop()

	tr.RequestFlush()
	require.Eventually(t, func() bool {
		return flusher.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTracker_StopAbandonsInFlightFlush(t *testing.T) {
	flusher := &recordingFlusher{block: true}
	tr := NewTracker(quietConfig(), acceptFunc(acceptAll), &memQueue{}, flusher, nil)

	tr.Start(context.Background(), make(chan types.Fix))
	tr.RequestFlush()
	require.Eventually(t, func() bool {
		return flusher.active.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight flush")
	}
	assert.Zero(t, flusher.active.Load())
}

func TestTracker_SlowFlushDoesNotLoseAcceptedSamples(t *testing.T) {
	queue := &memQueue{}
	flusher := &recordingFlusher{block: true}
	cfg := quietConfig()
	cfg.Buffer = 2
	cfg.FlushThreshold = 1
	tr := NewTracker(cfg, acceptFunc(acceptAll), queue, flusher, nil)

	fixes := make(chan types.Fix)
	tr.Start(context.Background(), fixes)
	defer tr.Stop()

	for i := 0; i < 6; i++ {
		select {
		case fixes <- fixAt(i):
		case <-time.After(2 * time.Second):
			t.Fatalf("fix %d was not consumed", i)
		}
	}

	require.Eventually(t, func() bool {
		n, _ := queue.Len()
		return n == 6
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return flusher.active.Load() == 1
	}, 2*time.Second, 5*time.Millisecond, "the threshold flush is running and blocked")
	assert.Zero(t, flusher.overlaps.Load())
}

func TestTracker_StopQueuesBufferedSamples(t *testing.T) {
	var accepted atomic.Int32
	countAccepts := func(fix types.Fix) (*types.LocationSample, bool) {
		accepted.Add(1)
		return acceptAll(fix)
	}
	queue := &memQueue{gate: make(chan struct{})}
	tr := NewTracker(quietConfig(), acceptFunc(countAccepts), queue, &recordingFlusher{}, nil)

	fixes := make(chan types.Fix, 3)
	for i := 0; i < 3; i++ {
		fixes <- fixAt(i)
	}
	tr.Start(context.Background(), fixes)

	require.Eventually(t, func() bool {
		return accepted.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	close(queue.gate)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
	n, _ := queue.Len()
	assert.Equal(t, 3, n)
}

func TestTracker_StopWithoutStart(t *testing.T) {
	tr := NewTracker(quietConfig(), acceptFunc(acceptAll), &memQueue{}, &recordingFlusher{}, nil)
	tr.Stop()
}

func TestReadFixes(t *testing.T) {
	input := strings.Join([]string{
		`{"latitude":40.1,"longitude":-3.7,"accuracy":12,"timestamp":"2026-01-02T10:00:00Z"}`,
		``,
		`not json`,
		`{"latitude":40.2,"longitude":-3.7,"accuracy":8,"speed":1.5,"timestamp":"2026-01-02T10:00:30Z"}`,
	}, "\n")

	out := make(chan types.Fix, 4)
	require.NoError(t, ReadFixes(context.Background(), strings.NewReader(input), out))

	var got []types.Fix
	for fix := range out {
		got = append(got, fix)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 40.1, got[0].Latitude)
	assert.Nil(t, got[0].Speed)
	require.NotNil(t, got[1].Speed)
	assert.Equal(t, 1.5, *got[1].Speed)
}

func TestReadFixes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan types.Fix)
	err := ReadFixes(ctx, strings.NewReader(`{"latitude":1,"longitude":1,"accuracy":1}`), out)
	assert.ErrorIs(t, err, context.Canceled)

	_, open := <-out
	assert.False(t, open)
}

package metrics

import (
	"time"

	"github.com/cuemby/trail/pkg/types"
)

// DepthSource reports how many entries are waiting
type DepthSource interface {
	Len() (int, error)
}

// StateSource reports the current auth state
type StateSource interface {
	State() types.AuthState
}

var authStates = []types.AuthState{
	types.AuthStateAuthenticated,
	types.AuthStateRefreshPending,
	types.AuthStatePinRequired,
	types.AuthStateLoggedOut,
}

// Collector periodically samples gauges that are not updated inline
type Collector struct {
	queue    DepthSource
	session  StateSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(queue DepthSource, session StateSource) *Collector {
	return &Collector{
		queue:    queue,
		session:  session,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectAuthMetrics()
}

func (c *Collector) collectQueueMetrics() {
	n, err := c.queue.Len()
	if err != nil {
		UpdateComponent(ComponentQueue, false, err.Error())
		return
	}
	UpdateComponent(ComponentQueue, true, "")
	QueueDepth.Set(float64(n))
}

func (c *Collector) collectAuthMetrics() {
	SetAuthState(c.session.State())
}

// SetAuthState flips the auth state gauge to the given state
func SetAuthState(state types.AuthState) {
	for _, s := range authStates {
		v := 0.0
		if s == state {
			v = 1
		}
		AuthState.WithLabelValues(string(s)).Set(v)
	}
}

package sampler

import (
	"sync"
	"time"

	"github.com/cuemby/trail/pkg/geo"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
)

// Drop reasons, used as the metric label
const (
	ReasonThrottled = "throttled"
	ReasonAccuracy  = "accuracy"
	ReasonInvalid   = "invalid"
	ReasonNoSession = "no_session"
)

// Owner supplies the id of the signed-in user
type Owner interface {
	UserID() string
}

// Config holds the sampler thresholds
type Config struct {
	MinInterval       time.Duration // minimum receipt gap between accepted fixes
	MaxAccuracyMeters float64       // fixes less accurate than this are dropped
	MaxSpeedMPS       float64       // implied speed above which the delta is zeroed
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MinInterval:       25 * time.Second,
		MaxAccuracyMeters: 50,
		MaxSpeedMPS:       50,
	}
}

// Sampler throttles and filters raw fixes. It never blocks and never fails:
// a rejected fix is simply not returned.
type Sampler struct {
	cfg    Config
	owner  Owner
	now    func() time.Time
	logger zerolog.Logger

	mu         sync.Mutex
	last       *types.LocationSample
	lastAccept time.Time
}

// NewSampler creates a sampler
func NewSampler(cfg Config, owner Owner) *Sampler {
	return &Sampler{
		cfg:    cfg,
		owner:  owner,
		now:    time.Now,
		logger: log.WithComponent("sampler"),
	}
}

// WithClock replaces the receipt clock
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Accept runs the fix through the throttle, accuracy and plausibility
// filters. It returns the sample to enqueue, or false if the fix is dropped.
func (s *Sampler) Accept(fix types.Fix) (*types.LocationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	received := s.now()

	if !s.lastAccept.IsZero() && received.Sub(s.lastAccept) < s.cfg.MinInterval {
		return s.drop(ReasonThrottled)
	}
	if !geo.ValidCoordinate(fix.Latitude, fix.Longitude) || fix.Accuracy < 0 {
		return s.drop(ReasonInvalid)
	}
	if fix.Accuracy > s.cfg.MaxAccuracyMeters {
		return s.drop(ReasonAccuracy)
	}

	owner := s.owner.UserID()
	if owner == "" {
		return s.drop(ReasonNoSession)
	}

	recordedAt := fix.Timestamp
	if recordedAt.IsZero() {
		recordedAt = received
	}

	sample := &types.LocationSample{
		OwnerUserID: owner,
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		Accuracy:    fix.Accuracy,
		Speed:       fix.Speed,
		Heading:     fix.Heading,
		Altitude:    fix.Altitude,
		RecordedAt:  recordedAt,
	}

	// No delta across a change of user.
	if s.last != nil && s.last.OwnerUserID == owner {
		distance := geo.HaversineMeters(s.last.Latitude, s.last.Longitude, sample.Latitude, sample.Longitude)
		elapsed := sample.RecordedAt.Sub(s.last.RecordedAt).Seconds()
		switch {
		case distance == 0:
		case elapsed <= 0 || distance/elapsed > s.cfg.MaxSpeedMPS:
			// Keep the ping, but don't count the jump as movement.
			metrics.SamplesImplausible.Inc()
			s.logger.Debug().
				Float64("distance_m", distance).
				Float64("elapsed_s", elapsed).
				Msg("Implausible jump, distance delta zeroed")
		default:
			sample.DistanceDeltaMeters = distance
		}
	}

	s.last = sample
	s.lastAccept = received
	metrics.SamplesAccepted.Inc()

	return sample, true
}

// Reset forgets the last accepted fix, e.g. after the user changes
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	s.lastAccept = time.Time{}
}

func (s *Sampler) drop(reason string) (*types.LocationSample, bool) {
	metrics.SamplesDropped.WithLabelValues(reason).Inc()
	return nil, false
}

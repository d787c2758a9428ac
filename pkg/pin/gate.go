package pin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/session"
	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// MinLength is the shortest PIN accepted by SetPin
const MinLength = 4

var (
	// ErrInvalidPin is returned when the entered PIN does not match
	ErrInvalidPin = errors.New("invalid PIN")
	// ErrNoPin is returned when no PIN is configured
	ErrNoPin = errors.New("no PIN configured")
)

// Refresher performs a token refresh
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Flusher drains the queue
type Flusher interface {
	Flush(ctx context.Context, maxBatch int) syncer.Result
}

// Escalation is cleared once the session is unlocked
type Escalation interface {
	Clear()
}

// Gate verifies the local PIN and resumes the pipeline after an unlock
type Gate struct {
	session    *session.Session
	refresher  Refresher
	flusher    Flusher
	escalation Escalation
	broker     *events.Broker
	batchSize  int
	logger     zerolog.Logger
}

// NewGate creates a PIN gate
func NewGate(sess *session.Session, refresher Refresher, flusher Flusher, escalation Escalation, broker *events.Broker) *Gate {
	return &Gate{
		session:    sess,
		refresher:  refresher,
		flusher:    flusher,
		escalation: escalation,
		broker:     broker,
		batchSize:  syncer.DefaultBatchSize,
		logger:     log.WithComponent("pin"),
	}
}

// WithBatchSize sets how many entries the post-unlock flush considers
func (g *Gate) WithBatchSize(n int) *Gate {
	if n > 0 {
		g.batchSize = n
	}
	return g
}

// SetPin stores a bcrypt hash of pin
func (g *Gate) SetPin(pin string) error {
	if len(pin) < MinLength {
		return fmt.Errorf("PIN must be at least %d digits", MinLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN: %w", err)
	}
	return g.session.SetPinHash(string(hash))
}

// ClearPin removes the PIN; a later refresh rejection will sign out
func (g *Gate) ClearPin() error {
	return g.session.ClearPinHash()
}

// Verify checks pin against the stored hash
func (g *Gate) Verify(pin string) error {
	hash, found, err := g.session.PinHash()
	if err != nil {
		return fmt.Errorf("failed to read PIN: %w", err)
	}
	if !found {
		return ErrNoPin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return ErrInvalidPin
	}
	return nil
}

// Unlock verifies the PIN, refreshes the token straight away and, once the
// session is authenticated again, runs one best-effort flush of the backlog
// collected while locked.
func (g *Gate) Unlock(ctx context.Context, pin string) error {
	if err := g.Verify(pin); err != nil {
		return err
	}

	if err := g.refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after unlock: %w", err)
	}
	if state := g.session.State(); state != types.AuthStateAuthenticated {
		return fmt.Errorf("refresh after unlock: session is %s", state)
	}

	if g.escalation != nil {
		g.escalation.Clear()
	}
	g.logger.Info().Msg("Session unlocked")
	g.broker.Publish(&events.Event{Type: events.EventAuthUnlocked, Message: "session unlocked by PIN"})

	// Failures are already handled by the engine; nothing to do here.
	result := g.flusher.Flush(ctx, g.batchSize)
	g.logger.Debug().Str("result", result.String()).Msg("Post-unlock flush")
	return nil
}

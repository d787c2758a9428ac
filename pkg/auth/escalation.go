package auth

// Escalation is a single-slot signal meaning "local PIN entry is required
// now". Signals coalesce while one is pending, and a received signal is
// consumed: the UI cannot see the same escalation twice, and a slow UI does
// not lose it.
type Escalation struct {
	ch chan struct{}
}

// NewEscalation creates an empty escalation slot
func NewEscalation() *Escalation {
	return &Escalation{ch: make(chan struct{}, 1)}
}

// Signal raises the escalation. It returns false if one was already pending.
func (e *Escalation) Signal() bool {
	select {
	case e.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// C returns the channel the UI receives escalations on
func (e *Escalation) C() <-chan struct{} {
	return e.ch
}

// Pending reports whether an unconsumed escalation is waiting
func (e *Escalation) Pending() bool {
	return len(e.ch) > 0
}

// Clear drops a pending escalation, e.g. once the session is unlocked by
// other means
func (e *Escalation) Clear() {
	select {
	case <-e.ch:
	default:
	}
}

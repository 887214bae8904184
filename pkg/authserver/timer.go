package authserver

import (
	"sync"
	"time"
)

// Timer is the single-shot timer collaborator an AS (or LV, via its
// embedded AS) arms on entering WaitStartConf and clears on reaching
// WaitForUpdates or REINIT (spec section 5). Expiry behaviour is the
// collaborator's responsibility: the reference Timer implementations
// here call back into the AS to reset it to WaitStartReq, but a
// collaborator could instead surface expiry to an operator, retry with
// backoff, etc. The core only requires Arm/Clear semantics.
type Timer interface {
	// Arm schedules onExpire to run once, unless Clear is called first.
	// Arming an already-armed timer restarts it.
	Arm(onExpire func())
	// Clear cancels a pending expiry, if any.
	Clear()
}

// NoopTimer never fires. Useful for unit tests that drive the AS
// automaton directly and don't want a background goroutine touching
// state between assertions.
type NoopTimer struct{}

// NewNoopTimer returns a Timer that never expires.
func NewNoopTimer() NoopTimer { return NoopTimer{} }

// Arm implements Timer.
func (NoopTimer) Arm(func()) {}

// Clear implements Timer.
func (NoopTimer) Clear() {}

// WallClockTimer is a real single-shot timer backed by time.AfterFunc,
// suitable for production nodes and the demo binary.
type WallClockTimer struct {
	d time.Duration

	mu sync.Mutex
	t  *time.Timer
}

// NewWallClockTimer returns a Timer that fires after d has elapsed.
func NewWallClockTimer(d time.Duration) *WallClockTimer {
	return &WallClockTimer{d: d}
}

// Arm implements Timer.
func (w *WallClockTimer) Arm(onExpire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
	}
	w.t = time.AfterFunc(w.d, onExpire)
}

// Clear implements Timer.
func (w *WallClockTimer) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}

// Package sale tracks the locally observed state of a candy machine sale.
//
// The Model holds a single State value. NotYetLive moves to Live when a
// one-shot timer armed for the go-live time fires. SoldOut is a latch: once
// entered it is never left for the lifetime of the Model. A Model that has
// never been successfully refreshed (or whose last refresh failed) reports
// NotYetLive so that minting is never permitted on unknown state.
package sale

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"candy-mint/internal/candymachine"
)

// State is the observed sale state.
type State int

const (
	NotYetLive State = iota
	Live
	SoldOut
)

func (s State) String() string {
	switch s {
	case NotYetLive:
		return "not_yet_live"
	case Live:
		return "live"
	case SoldOut:
		return "sold_out"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is delivered to observers on every state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Status is a point-in-time copy of the model.
type Status struct {
	State    State                 `json:"state"`
	Known    bool                  `json:"known"`
	Counters candymachine.Counters `json:"counters"`
	GoLiveAt time.Time             `json:"goLiveAt"`
}

// Option configures a Model.
type Option func(*Model)

// WithClock sets the clock used for the go-live timer.
func WithClock(c clock.Clock) Option {
	return func(m *Model) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Model is the sale state machine. It is safe for concurrent use.
type Model struct {
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	known     bool
	latched   bool
	counters  candymachine.Counters
	goLiveAt  time.Time
	windowSet bool

	timer    *clock.Timer
	timerGen uint64
	fired    bool

	observers []func(Transition)
}

// NewModel creates a Model in the NotYetLive state.
func NewModel(opts ...Option) *Model {
	m := &Model{
		clock:  clock.New(),
		logger: zap.NewNop(),
		state:  NotYetLive,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTransition registers fn to be called after each state change. Observers
// run synchronously outside the model lock, once per transition.
func (m *Model) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CanMint reports whether minting is permitted.
func (m *Model) CanMint() bool {
	return m.State() == Live
}

// SoldOut reports whether the sold-out latch is set.
func (m *Model) SoldOut() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latched
}

// Status returns a copy of the model.
func (m *Model) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:    m.state,
		Known:    m.known,
		Counters: m.counters,
		GoLiveAt: m.goLiveAt,
	}
}

// Apply folds a successful read into the model. The go-live time is taken
// from the first snapshot that carries one; later snapshots only update the
// counters. Remaining == 0 latches SoldOut.
func (m *Model) Apply(snap candymachine.Snapshot) {
	m.mu.Lock()
	m.known = true
	m.counters = snap.Counters
	if !m.windowSet && !snap.GoLiveAt.IsZero() {
		m.setWindowLocked(snap.GoLiveAt)
	}
	if snap.Counters.SoldOut() {
		m.latchLocked()
	}
	tr, changed := m.recomputeLocked()
	m.mu.Unlock()

	m.notify(tr, changed)
}

// ReplaceWindow swaps the go-live time, e.g. after a reconnect re-sync.
func (m *Model) ReplaceWindow(goLiveAt time.Time) {
	if goLiveAt.IsZero() {
		return
	}

	m.mu.Lock()
	if m.windowSet && m.goLiveAt.Equal(goLiveAt) {
		m.mu.Unlock()
		return
	}
	m.setWindowLocked(goLiveAt)
	tr, changed := m.recomputeLocked()
	m.mu.Unlock()

	m.notify(tr, changed)
}

// MarkUnknown records a failed read. The model reports NotYetLive until the
// next successful Apply, unless it is already latched SoldOut.
func (m *Model) MarkUnknown() {
	m.mu.Lock()
	m.known = false
	tr, changed := m.recomputeLocked()
	m.mu.Unlock()

	m.notify(tr, changed)
}

// LatchSoldOut forces the SoldOut latch, e.g. after the program rejected a
// mint because the machine is empty.
func (m *Model) LatchSoldOut() {
	m.mu.Lock()
	m.latchLocked()
	tr, changed := m.recomputeLocked()
	m.mu.Unlock()

	m.notify(tr, changed)
}

// Close stops the go-live timer.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

func (m *Model) latchLocked() {
	if m.latched {
		return
	}
	m.latched = true
	m.stopTimerLocked()
}

// setWindowLocked records the go-live time and arms the timer when it lies
// in the future.
func (m *Model) setWindowLocked(goLiveAt time.Time) {
	m.goLiveAt = goLiveAt
	m.windowSet = true
	m.fired = false
	m.stopTimerLocked()

	if m.latched {
		return
	}
	wait := goLiveAt.Sub(m.clock.Now())
	if wait <= 0 {
		m.fired = true
		return
	}

	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(wait, func() { m.fire(gen) })
	m.logger.Debug("go-live timer armed", zap.Time("go_live_at", goLiveAt), zap.Duration("wait", wait))
}

func (m *Model) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

// fire completes the go-live timer of generation gen. Stale or repeated
// firings are ignored.
func (m *Model) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.fired {
		m.mu.Unlock()
		return
	}
	m.fired = true
	m.timer = nil
	tr, changed := m.recomputeLocked()
	m.mu.Unlock()

	m.logger.Info("go-live time reached", zap.Stringer("state", tr.To))
	m.notify(tr, changed)
}

func (m *Model) recomputeLocked() (Transition, bool) {
	next := NotYetLive
	switch {
	case m.latched:
		next = SoldOut
	case m.known && m.windowSet && m.fired:
		next = Live
	}

	tr := Transition{From: m.state, To: next, At: m.clock.Now()}
	if next == m.state {
		return tr, false
	}
	m.state = next
	return tr, true
}

func (m *Model) notify(tr Transition, changed bool) {
	if !changed {
		return
	}
	m.logger.Info("sale state changed", zap.Stringer("from", tr.From), zap.Stringer("to", tr.To))

	m.mu.RLock()
	observers := append([]func(Transition){}, m.observers...)
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(tr)
	}
}

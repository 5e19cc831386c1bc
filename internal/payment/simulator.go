// Package payment simulates a QR payment gateway: a countdown that resolves
// to success at its midpoint, accepts a manual confirmation, and can be
// cancelled until it resolves.
package payment

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotStarted     = errors.New("payment has not started")
	ErrAlreadyStarted = errors.New("payment already started")
	ErrFinished       = errors.New("payment already finished")
)

type State string

const (
	StateIdle       State = "idle"
	StateCounting   State = "counting"
	StateProcessing State = "processing"
	StateExpired    State = "expired"
	StateResolved   State = "resolved"
	StateCancelled  State = "cancelled"
	StateStopped    State = "stopped"
)

type Kind string

const (
	KindPaid      Kind = "paid"
	KindCancelled Kind = "cancelled"
	KindFailed    Kind = "failed"
)

type Via string

const (
	ViaAuto        Via = "auto"
	ViaManual      Via = "manual"
	ViaManualCheck Via = "manual-check"
)

type Outcome struct {
	Kind   Kind   `json:"kind"`
	Via    Via    `json:"via,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Status struct {
	State     State `json:"state"`
	Remaining int   `json:"remaining"`
}

type Config struct {
	Countdown       int
	TickInterval    time.Duration
	Midpoint        int
	ProcessingDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Countdown:       20,
		TickInterval:    time.Second,
		Midpoint:        10,
		ProcessingDelay: 1500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Countdown <= 0 {
		return fmt.Errorf("payment countdown must be > 0")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("payment tick interval must be > 0")
	}
	if c.Midpoint < 0 || c.Midpoint >= c.Countdown {
		return fmt.Errorf("payment midpoint must be in [0, %d)", c.Countdown)
	}
	if c.ProcessingDelay < 0 {
		return fmt.Errorf("payment processing delay must be >= 0")
	}
	return nil
}

// Timer is the part of *time.Timer the simulator needs.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Simulator)

// WithAfterFunc replaces the timer source, mainly for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Simulator) { s.afterFunc = fn }
}

// WithObserver registers a callback for every countdown or state change.
func WithObserver(fn func(Status)) Option {
	return func(s *Simulator) { s.observe = fn }
}

// Simulator is safe for concurrent use. Callbacks run outside its lock, so
// they may call back into the simulator.
type Simulator struct {
	cfg       Config
	afterFunc AfterFunc
	onOutcome func(Outcome)
	observe   func(Status)

	mu        sync.Mutex
	state     State
	remaining int
	tick      Timer
	proc      Timer
	gen       uint64
	stopped   bool
}

func New(cfg Config, onOutcome func(Outcome), opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if onOutcome == nil {
		return nil, fmt.Errorf("payment outcome listener is required")
	}
	s := &Simulator{
		cfg:       cfg,
		afterFunc: realAfterFunc,
		onOutcome: onOutcome,
		state:     StateIdle,
		remaining: cfg.Countdown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Remaining: s.remaining}
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateCounting
	s.scheduleTickLocked()
	n := s.pendingLocked(nil)
	s.mu.Unlock()

	n.deliver()
	return nil
}

// Tick advances the countdown by one step. The timer calls it; tests may
// call it directly.
func (s *Simulator) Tick() {
	s.mu.Lock()
	if s.state != StateCounting {
		s.mu.Unlock()
		return
	}
	s.remaining--
	switch {
	case s.cfg.Midpoint > 0 && s.remaining == s.cfg.Midpoint:
		s.beginProcessingLocked(ViaAuto)
	case s.remaining <= 0:
		s.remaining = 0
		s.state = StateExpired
		s.stopTimersLocked()
	default:
		s.scheduleTickLocked()
	}
	n := s.pendingLocked(nil)
	s.mu.Unlock()

	n.deliver()
}

// Confirm is the customer's "I have paid". While counting it goes through the
// processing delay; after expiry the check succeeds immediately.
func (s *Simulator) Confirm() error {
	s.mu.Lock()
	var out *Outcome
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrNotStarted
	case StateCounting:
		s.beginProcessingLocked(ViaManual)
	case StateProcessing:
		s.mu.Unlock()
		return nil
	case StateExpired:
		out = s.resolveLocked(Outcome{Kind: KindPaid, Via: ViaManualCheck})
	default:
		s.mu.Unlock()
		return ErrFinished
	}
	n := s.pendingLocked(out)
	s.mu.Unlock()

	n.deliver()
	return nil
}

// Cancel abandons the payment. It is allowed until the payment resolves.
func (s *Simulator) Cancel() error {
	s.mu.Lock()
	switch s.state {
	case StateResolved, StateCancelled, StateStopped:
		s.mu.Unlock()
		return ErrFinished
	}
	s.stopTimersLocked()
	s.state = StateCancelled
	out := &Outcome{Kind: KindCancelled}
	n := s.pendingLocked(out)
	s.mu.Unlock()

	n.deliver()
	return nil
}

// Stop tears the simulator down. Callbacks not yet started are dropped; one
// already running when Stop is called may still complete.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopTimersLocked()
	switch s.state {
	case StateResolved, StateCancelled:
	default:
		s.state = StateStopped
	}
	s.onOutcome = nil
	s.observe = nil
}

func (s *Simulator) beginProcessingLocked(via Via) {
	s.stopTimersLocked()
	s.state = StateProcessing
	gen := s.gen
	s.proc = s.afterFunc(s.cfg.ProcessingDelay, func() { s.finishProcessing(gen, via) })
}

func (s *Simulator) finishProcessing(gen uint64, via Via) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateProcessing {
		s.mu.Unlock()
		return
	}
	out := s.resolveLocked(Outcome{Kind: KindPaid, Via: via})
	n := s.pendingLocked(out)
	s.mu.Unlock()

	n.deliver()
}

func (s *Simulator) resolveLocked(out Outcome) *Outcome {
	s.stopTimersLocked()
	s.state = StateResolved
	return &out
}

func (s *Simulator) scheduleTickLocked() {
	if s.tick != nil {
		s.tick.Stop()
	}
	s.gen++
	gen := s.gen
	s.tick = s.afterFunc(s.cfg.TickInterval, func() {
		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if !stale {
			s.Tick()
		}
	})
}

// stopTimersLocked also bumps the generation so a timer that already fired
// and is waiting on the lock becomes a no-op.
func (s *Simulator) stopTimersLocked() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.proc != nil {
		s.proc.Stop()
		s.proc = nil
	}
	s.gen++
}

func (s *Simulator) statusLocked() Status {
	return Status{State: s.state, Remaining: s.remaining}
}

// notification is captured under the lock and delivered after it is released.
type notification struct {
	sim       *Simulator
	status    Status
	outcome   *Outcome
	observe   func(Status)
	onOutcome func(Outcome)
}

func (s *Simulator) pendingLocked(out *Outcome) notification {
	return notification{sim: s, status: s.statusLocked(), outcome: out, observe: s.observe, onOutcome: s.onOutcome}
}

// deliver re-checks Stop before each callback, since Stop may have run
// between capture and delivery.
func (n notification) deliver() {
	if n.observe != nil && n.live() {
		n.observe(n.status)
	}
	if n.outcome != nil && n.onOutcome != nil && n.live() {
		n.onOutcome(*n.outcome)
	}
}

func (n notification) live() bool {
	n.sim.mu.Lock()
	defer n.sim.mu.Unlock()
	return !n.sim.stopped
}

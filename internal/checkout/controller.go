package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/shopclient/internal/audit"
	"storefront/shopclient/internal/events"
	"storefront/shopclient/internal/observability"
	"storefront/shopclient/internal/payment"
	"storefront/shopclient/internal/shop"
)

// PlaceholderReference stands in for the order id when order creation fails
// after the customer has paid.
const PlaceholderReference = "processing"

const DegradedWarning = "Payment received, but the order is still being registered. It will appear in your order history once processing completes."

type OrderCreator interface {
	CreateOrder(ctx context.Context, order shop.OrderCreate, idempotencyKey string) (shop.Order, error)
}

// SessionChecker is the slice of the auth flow the checkout needs at its
// commit point.
type SessionChecker interface {
	Refresh(ctx context.Context) bool
	User() (shop.User, bool)
	HandleUnauthorized(ctx context.Context, err error) bool
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Deps struct {
	Orders         OrderCreator
	Auth           SessionChecker
	Events         events.Publisher
	Audit          AuditLogger
	Logger         *slog.Logger
	Payment        payment.Config
	PaymentOptions []payment.Option
	CommitTimeout  time.Duration
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Orders == nil {
		return d, fmt.Errorf("order creator is required")
	}
	if d.Auth == nil {
		return d, fmt.Errorf("session checker is required")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	if d.Payment == (payment.Config{}) {
		d.Payment = payment.DefaultConfig()
	}
	if err := d.Payment.Validate(); err != nil {
		return d, err
	}
	if d.CommitTimeout <= 0 {
		d.CommitTimeout = 15 * time.Second
	}
	return d, nil
}

type Snapshot struct {
	ID             string          `json:"id"`
	Stage          Stage           `json:"stage"`
	Draft          Draft           `json:"draft"`
	Payment        *payment.Status `json:"payment,omitempty"`
	Busy           bool            `json:"busy"`
	OrderID        int64           `json:"order_id,omitempty"`
	OrderReference string          `json:"order_reference,omitempty"`
	Warning        string          `json:"warning,omitempty"`
	Error          string          `json:"error,omitempty"`
	Redirect       string          `json:"redirect,omitempty"`
	Actions        []Action        `json:"actions"`
}

// Controller serializes the transitions of one checkout attempt. Network
// calls run outside its lock; the busy flag rejects overlapping actions.
type Controller struct {
	id      string
	ownerID int64
	deps    Deps
	idemKey string

	baseCtx context.Context
	cancel  context.CancelFunc

	// onTerminal is set by the Manager before the controller is shared.
	onTerminal func(*Controller)

	mu        sync.Mutex
	stage     Stage
	draft     Draft
	sim       *payment.Simulator
	attempt   int
	busy      bool
	submitted bool
	closed    bool
	orderID   int64
	reference string
	warning   string
	errMsg    string
	redirect  string
	subs      map[int]chan Snapshot
	nextSub   int
}

func NewController(id string, ownerID int64, product shop.Product, size string, deps Deps) (*Controller, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      id,
		ownerID: ownerID,
		deps:    deps,
		idemKey: uuid.NewString(),
		baseCtx: ctx,
		cancel:  cancel,
		stage:   StageCollecting,
		draft:   Draft{Product: product, Size: size},
		subs:    make(map[int]chan Snapshot),
	}
	observability.RecordCheckoutStage(string(StageCollecting))
	return c, nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) OwnerID() int64 { return c.ownerID }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:             c.id,
		Stage:          c.stage,
		Draft:          c.draft,
		Busy:           c.busy,
		OrderID:        c.orderID,
		OrderReference: c.reference,
		Warning:        c.warning,
		Error:          c.errMsg,
		Redirect:       c.redirect,
		Actions:        actionsFor(c.stage, c.busy),
	}
	if c.sim != nil && c.stage == StageAwaitingPayment {
		st := c.sim.Status()
		s.Payment = &st
	}
	return s
}

// UpdateShipping replaces the recipient form while it is editable.
func (c *Controller) UpdateShipping(s Shipping) (Snapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(StageCollecting); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.draft.Shipping = s.trimmed()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.broadcast(snap)
	return snap, nil
}

// Submit validates the form and starts the payment. A form with blank fields
// leaves the stage unchanged.
func (c *Controller) Submit(s *Shipping) (Snapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(StageCollecting); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	if s != nil {
		c.draft.Shipping = s.trimmed()
	}
	if err := c.draft.Shipping.Validate(); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}

	c.attempt++
	attempt := c.attempt
	opts := append([]payment.Option{}, c.deps.PaymentOptions...)
	opts = append(opts, payment.WithObserver(func(payment.Status) { c.broadcast(c.Snapshot()) }))
	sim, err := payment.New(c.deps.Payment, func(o payment.Outcome) { c.onPayment(attempt, o) }, opts...)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("start payment: %w", err)
	}
	c.sim = sim
	c.errMsg = ""
	c.setStageLocked(StageAwaitingPayment)
	c.mu.Unlock()

	if err := sim.Start(); err != nil {
		return Snapshot{}, fmt.Errorf("start payment: %w", err)
	}
	c.deps.Logger.Info("checkout awaiting payment", "checkout_id", c.id, "product_id", c.draft.Product.ID)
	return c.Snapshot(), nil
}

// ConfirmPayment is the customer's "I have paid". After the countdown
// expired it resolves immediately and the order is committed before return.
func (c *Controller) ConfirmPayment() (Snapshot, error) {
	sim, err := c.activeSimulator()
	if err != nil {
		return Snapshot{}, err
	}
	if err := sim.Confirm(); err != nil {
		if errors.Is(err, payment.ErrFinished) {
			return Snapshot{}, ErrInvalidStage
		}
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// CancelPayment returns to the form with the draft intact.
func (c *Controller) CancelPayment() (Snapshot, error) {
	sim, err := c.activeSimulator()
	if err != nil {
		return Snapshot{}, err
	}
	if err := sim.Cancel(); err != nil {
		if errors.Is(err, payment.ErrFinished) {
			return Snapshot{}, ErrInvalidStage
		}
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (c *Controller) activeSimulator() (*payment.Simulator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked(StageAwaitingPayment); err != nil {
		return nil, err
	}
	if c.sim == nil {
		return nil, ErrInvalidStage
	}
	return c.sim, nil
}

func (c *Controller) guardLocked(want Stage) error {
	switch {
	case c.closed:
		return ErrClosed
	case c.busy:
		return ErrBusy
	case c.stage != want:
		return ErrInvalidStage
	}
	return nil
}

func (c *Controller) onPayment(attempt int, o payment.Outcome) {
	observability.RecordPaymentOutcome(string(o.Kind), string(o.Via))

	c.mu.Lock()
	if c.closed || attempt != c.attempt || c.stage != StageAwaitingPayment {
		c.mu.Unlock()
		return
	}
	switch o.Kind {
	case payment.KindPaid:
		c.setStageLocked(StagePaidPendingOrder)
		c.busy = true
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.deps.Logger.Info("checkout paid", "checkout_id", c.id, "via", string(o.Via))
		c.broadcast(snap)
		c.commit()
		return
	case payment.KindCancelled:
		c.sim = nil
		c.setStageLocked(StageCollecting)
	default:
		c.sim = nil
		c.errMsg = o.Reason
		if c.errMsg == "" {
			c.errMsg = "payment failed"
		}
		c.setStageLocked(StageFailed)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.broadcast(snap)
	c.finished(snap)
}

// commit revalidates the session and creates the order exactly once. An
// order-creation failure still confirms the checkout with a placeholder
// reference: the customer has already paid, so the order is reconciled out
// of band instead of reporting a failed payment.
func (c *Controller) commit() {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.deps.CommitTimeout)
	defer cancel()

	valid := c.deps.Auth.Refresh(ctx)
	user, ok := c.deps.Auth.User()
	if c.tornDown(nil) {
		return
	}
	if !valid || !ok || user.ID != c.ownerID {
		reason := "session no longer valid"
		if valid && ok {
			reason = fmt.Sprintf("signed-in user %d does not own the checkout", user.ID)
		}
		c.mu.Lock()
		c.busy = false
		c.sim = nil
		c.redirect = authPath
		c.setStageLocked(StageAuthRequired)
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.deps.Logger.Warn("checkout needs sign-in before order creation", "checkout_id", c.id, "owner_id", c.ownerID, "reason", reason)
		_ = c.deps.Audit.Log("", audit.ActionCheckoutAuthLost, c.id, audit.OutcomeFailed, reason)
		c.emit(ctx, events.TypeCheckoutAuthLost, snap, 0, nil)
		c.broadcast(snap)
		c.finished(snap)
		return
	}

	c.mu.Lock()
	if c.submitted {
		c.mu.Unlock()
		return
	}
	c.submitted = true
	order := c.draft.order(user.ID)
	c.mu.Unlock()

	created, err := c.deps.Orders.CreateOrder(ctx, order, c.idemKey)
	if err != nil {
		if c.tornDown(err) {
			return
		}
		c.deps.Auth.HandleUnauthorized(ctx, err)
	}

	c.mu.Lock()
	c.busy = false
	c.sim = nil
	if err == nil {
		c.orderID = created.ID
		c.reference = strconv.FormatInt(created.ID, 10)
	} else {
		c.reference = PlaceholderReference
		c.warning = DegradedWarning
	}
	c.setStageLocked(StageConfirmed)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		observability.RecordCheckoutDegraded()
		c.deps.Logger.Warn("order creation failed after payment, confirming with placeholder",
			"checkout_id", c.id, "user_id", user.ID, "error", err)
		_ = c.deps.Audit.Log(user.Username, audit.ActionCheckoutDegraded, c.id, audit.OutcomeFailed, err.Error())
		c.emit(ctx, events.TypeOrderDegraded, snap, user.ID, err)
	} else {
		c.deps.Logger.Info("checkout confirmed", "checkout_id", c.id, "order_id", created.ID)
		_ = c.deps.Audit.Log(user.Username, audit.ActionCheckoutConfirmed, snap.OrderReference, audit.OutcomeSuccess, "")
		c.emit(ctx, events.TypeCheckoutConfirmed, snap, user.ID, nil)
	}
	c.broadcast(snap)
	c.finished(snap)
}

// tornDown reports whether the checkout was closed while its commit was under
// way. A closed checkout records no outcome.
func (c *Controller) tornDown(cause error) bool {
	c.mu.Lock()
	closed := c.closed
	if closed || errors.Is(cause, context.Canceled) {
		c.busy = false
		c.mu.Unlock()
		c.deps.Logger.Info("checkout closed during commit, no outcome recorded", "checkout_id", c.id, "error", cause)
		return true
	}
	c.mu.Unlock()
	return false
}

func (c *Controller) finished(snap Snapshot) {
	if snap.Stage.Terminal() && c.onTerminal != nil {
		c.onTerminal(c)
	}
}

func (c *Controller) emit(ctx context.Context, eventType string, snap Snapshot, userID int64, cause error) {
	if userID == 0 {
		userID = c.ownerID
	}
	payload := events.CheckoutPayload{
		CheckoutID:     c.id,
		UserID:         userID,
		ProductID:      snap.Draft.Product.ID,
		SelectedSize:   snap.Draft.Size,
		OrderID:        snap.OrderID,
		OrderReference: snap.OrderReference,
		IdempotencyKey: c.idemKey,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	env, err := events.NewEnvelope(eventType, c.id, payload, time.Now())
	if err == nil {
		err = c.deps.Events.Publish(context.WithoutCancel(ctx), env)
	}
	if err != nil {
		c.deps.Logger.Error("publish checkout event", "checkout_id", c.id, "event_type", eventType, "error", err)
	}
}

func (c *Controller) setStageLocked(to Stage) {
	if !CanTransition(c.stage, to) {
		c.deps.Logger.Error("illegal checkout transition", "checkout_id", c.id, "from", string(c.stage), "to", string(to))
		return
	}
	c.stage = to
	observability.RecordCheckoutStage(string(to))
}

// Subscribe streams a snapshot on every change, starting with the current
// one. Slow readers miss intermediate snapshots, never the latest.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Controller) broadcast(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Close tears the checkout down. Pending payment timers are cancelled and
// subscribers are released.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sim := c.sim
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	if sim != nil {
		sim.Stop()
	}
	c.cancel()
}

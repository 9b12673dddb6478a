package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/lock"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

const persistTimeout = 10 * time.Second

// Service owns subscription status. Every operation on a business runs under
// a per-business lock and saves with a version compare-and-set.
type Service struct {
	plans   map[string]Plan
	store   Store
	charger *Charger
	machine *machine
	policy  RetryPolicy
	locker  lock.Locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewService loads and validates the plan catalog. Panics on nil dependencies.
func NewService(ctx context.Context, src PlansListSource, store Store, charger *Charger, opts ...ServiceOption) (*Service, error) {
	if src == nil {
		panic("subscription: PlansListSource is required")
	}
	if store == nil {
		panic("subscription: Store is required")
	}
	if charger == nil {
		panic("subscription: Charger is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	s := &Service{
		plans:   plans,
		store:   store,
		charger: charger,
		policy:  DefaultRetryPolicy(),
		locker:  lock.NewMemoryLocker(),
		lockTTL: time.Minute,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: max retries must be positive", billingerr.ErrConfiguration)
	}
	s.machine = newMachine(s.policy)
	s.logger = s.logger.With(logger.Component("subscription"))
	return s, nil
}

// Plan returns the catalog entry for id.
func (s *Service) Plan(id string) (Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p.clone(), nil
}

// Plans returns the catalog ordered by price.
func (s *Service) Plans() []Plan {
	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.Price.Amount, b.Price.Amount), strings.Compare(a.ID, b.ID))
	})
	return out
}

// RetryPolicy returns the policy used to schedule payment retries.
func (s *Service) RetryPolicy() RetryPolicy {
	return s.policy
}

// GetSubscription returns the business's latest subscription.
func (s *Service) GetSubscription(ctx context.Context, businessID uuid.UUID) (*Subscription, error) {
	return s.store.GetByBusiness(ctx, businessID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// History lists every subscription the business ever had, oldest first.
func (s *Service) History(ctx context.Context, businessID uuid.UUID) ([]Subscription, error) {
	return s.store.ListByBusiness(ctx, businessID)
}

// SubscribeRequest starts a subscription.
type SubscribeRequest struct {
	BusinessID      uuid.UUID
	PlanID          string
	UserID          string // the redeeming user for per-user discount caps
	DiscountCode    string
	PaymentMethodID *uuid.UUID // made the business's default when set
}

// Subscribe creates a subscription. A plan with a trial starts in trial and
// charges nothing; otherwise the first period is charged immediately and the
// subscription ends up active or, when the charge fails, unpaid together with
// an ErrPaymentFailed error. A previous unpaid subscription is superseded.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	plan, err := s.Plan(req.PlanID)
	if err != nil {
		return nil, err
	}

	var sub *Subscription
	err = s.withBusiness(ctx, req.BusinessID, func(ctx context.Context) error {
		existing, err := s.store.GetByBusiness(ctx, req.BusinessID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			existing = nil
		case err != nil:
			return fmt.Errorf("load subscription: %w", err)
		case existing.Status.Blocking():
			return ErrAlreadySubscribed
		}

		var pending *discount.Pending
		if req.DiscountCode != "" {
			if pending, _, err = s.redeemable(ctx, req.DiscountCode, plan, req.UserID); err != nil {
				return err
			}
		}

		if req.PaymentMethodID != nil {
			if err := s.charger.methods.SetDefault(ctx, req.BusinessID, *req.PaymentMethodID); err != nil {
				return err
			}
		}

		if !plan.HasTrial() {
			if _, err := s.charger.PaymentMethod(ctx, req.BusinessID); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		if existing != nil && existing.Status == StatusUnpaid {
			c := &change{sub: existing, plan: s.plans[existing.PlanID], now: now, reason: ReasonSuperseded}
			if err := s.transition(ctx, c, EventCancel); err != nil {
				return err
			}
		}

		created := newSubscription(req.BusinessID, plan, now, pending, req.PaymentMethodID)
		if err := s.store.Create(ctx, created); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		sub = created
		s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription created",
			logger.BusinessID(sub.BusinessID),
			logger.SubscriptionID(sub.ID),
			logger.Status(sub.Status),
			slog.String("plan_id", plan.ID),
		)

		if plan.HasTrial() {
			return nil
		}
		out, err := s.bill(ctx, &change{sub: sub, plan: plan, now: now}, "initial", false)
		sub = out.Subscription
		return err
	})
	return sub, err
}

func newSubscription(businessID uuid.UUID, plan Plan, now time.Time, pending *discount.Pending, pmID *uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:                 uuid.New(),
		BusinessID:         businessID,
		PlanID:             plan.ID,
		Status:             StatusUnpaid,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now,
		AutoRenewal:        true,
		PaymentMethodID:    pmID,
		PendingDiscount:    pending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if plan.HasTrial() {
		start, end := now, plan.TrialEndsAt(now)
		sub.Status = StatusTrial
		sub.TrialStart = &start
		sub.TrialEnd = &end
		sub.CurrentPeriodEnd = end
		next := end
		sub.NextBillingDate = &next
	}
	return sub
}

// CancelRequest describes a user-initiated cancellation.
type CancelRequest struct {
	// Immediately ends an active subscription now instead of at period end.
	Immediately bool
	Reason      string
}

// Cancel ends the business's subscription. An active subscription keeps
// running until its period ends unless Immediately is set.
func (s *Service) Cancel(ctx context.Context, businessID uuid.UUID, req CancelRequest) (*Subscription, error) {
	reason := cmp.Or(strings.TrimSpace(req.Reason), ReasonRequested)

	var sub *Subscription
	err := s.withBusiness(ctx, businessID, func(ctx context.Context) error {
		cur, err := s.store.GetByBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyCanceled
		}
		sub = cur

		now := s.now().UTC()
		if cur.IsActive() && !req.Immediately {
			if cur.CancelAtPeriodEnd {
				return nil
			}
			cur.CancelAtPeriodEnd = true
			cur.AutoRenewal = false
			cur.CancellationReason = reason
			cur.UpdatedAt = now
			if err := s.save(ctx, cur); err != nil {
				return err
			}
			s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription will cancel at period end",
				logger.BusinessID(businessID),
				logger.SubscriptionID(cur.ID),
				slog.Time("period_end", cur.CurrentPeriodEnd),
			)
			return nil
		}
		return s.transition(ctx, &change{sub: cur, plan: s.plans[cur.PlanID], now: now, reason: reason}, EventCancel)
	})
	return sub, err
}

// Resume undoes a cancellation scheduled for the end of the period.
func (s *Service) Resume(ctx context.Context, businessID uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	err := s.withBusiness(ctx, businessID, func(ctx context.Context) error {
		cur, err := s.store.GetByBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if !cur.IsActive() || !cur.CancelAtPeriodEnd {
			return ErrNotCanceling
		}
		cur.CancelAtPeriodEnd = false
		cur.AutoRenewal = true
		cur.CancellationReason = ""
		cur.UpdatedAt = s.now().UTC()
		if err := s.save(ctx, cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	return sub, err
}

// ApplyDiscount validates code against the subscription's plan and keeps it
// pending until the next successful charge.
func (s *Service) ApplyDiscount(ctx context.Context, businessID uuid.UUID, code, userID string) (*Subscription, *discount.Calculation, error) {
	var (
		sub  *Subscription
		calc *discount.Calculation
	)
	err := s.withBusiness(ctx, businessID, func(ctx context.Context) error {
		cur, err := s.store.GetByBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyCanceled
		}
		if cur.PendingDiscount.Eligible() {
			return ErrDiscountAlreadyPending
		}
		plan, err := s.Plan(cur.PlanID)
		if err != nil {
			return err
		}

		pending, preview, err := s.redeemable(ctx, code, plan, userID)
		if err != nil {
			return err
		}
		cur.PendingDiscount = pending
		cur.UpdatedAt = s.now().UTC()
		if err := s.save(ctx, cur); err != nil {
			return err
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "discount pending",
			logger.BusinessID(businessID),
			logger.SubscriptionID(cur.ID),
			logger.DiscountCode(pending.Code),
			slog.Int("uses", pending.RemainingUses),
		)
		sub, calc = cur, preview
		return nil
	})
	return sub, calc, err
}

// ValidateDiscount previews code against a plan's price without reserving it.
func (s *Service) ValidateDiscount(ctx context.Context, code, planID, userID string) (*discount.Result, error) {
	plan, err := s.Plan(planID)
	if err != nil {
		return nil, err
	}
	return s.charger.discounts.Validate(ctx, discount.ValidateRequest{
		Code:     code,
		PlanID:   plan.ID,
		Amount:   plan.Price.Amount,
		Currency: plan.Price.Currency,
		UserID:   userID,
	})
}

func (s *Service) redeemable(ctx context.Context, code string, plan Plan, userID string) (*discount.Pending, *discount.Calculation, error) {
	res, err := s.ValidateDiscount(ctx, code, plan.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	if !res.Valid {
		return nil, nil, res.Reason
	}
	return discount.NewPending(res.Code, userID), res.Discount, nil
}

// Outcome reports what a billing operation did.
type Outcome struct {
	Subscription *Subscription
	From         Status
	Event        Event   // empty when no transition happened
	Charge       *Charge // nil when nothing reached the gateway
}

// Charged reports whether money was collected.
func (o *Outcome) Charged() bool {
	return o != nil && o.Charge.Succeeded()
}

// ConvertTrial charges a trial that has ended. Without a payment method the
// subscription stays in trial and ErrNoPaymentMethod is returned.
func (s *Service) ConvertTrial(ctx context.Context, businessID uuid.UUID) (*Outcome, error) {
	return s.billing(ctx, businessID, func(sub *Subscription, now time.Time) (due, error) {
		if !sub.IsTrialing() {
			return due{}, ErrNotInTrial
		}
		if !sub.TrialEnded(now) {
			return due{}, ErrTrialNotEnded
		}
		return due{kind: "trial conversion"}, nil
	})
}

// Renew charges an active subscription whose billing date has come. A
// subscription set to cancel at period end is canceled instead. A missing
// payment method counts as a failed charge.
func (s *Service) Renew(ctx context.Context, businessID uuid.UUID) (*Outcome, error) {
	return s.billing(ctx, businessID, func(sub *Subscription, now time.Time) (due, error) {
		if !sub.IsActive() {
			return due{}, ErrNotActive
		}
		if !sub.RenewalDue(now) {
			return due{}, ErrRenewalNotDue
		}
		if sub.CancelAtPeriodEnd || !sub.AutoRenewal {
			return due{endReason: cmp.Or(sub.CancellationReason, ReasonPeriodEnd)}, nil
		}
		return due{kind: "renewal", missingMethodFails: true}, nil
	})
}

// RetryPayment charges a past-due, unpaid or incomplete subscription once its
// next retry date has come.
func (s *Service) RetryPayment(ctx context.Context, businessID uuid.UUID) (*Outcome, error) {
	return s.billing(ctx, businessID, func(sub *Subscription, now time.Time) (due, error) {
		switch sub.Status {
		case StatusPastDue:
			if s.policy.Exhausted(sub.FailedPaymentCount) {
				return due{}, ErrRetriesExhausted
			}
		case StatusUnpaid, StatusIncomplete:
		default:
			return due{}, ErrNothingOutstanding
		}
		if !sub.RetryDue(now) {
			return due{}, ErrRetryNotDue
		}
		return due{kind: "retry", missingMethodFails: sub.Status == StatusPastDue}, nil
	})
}

// CancelForNonPayment cancels a past-due subscription whose retries are exhausted.
func (s *Service) CancelForNonPayment(ctx context.Context, businessID uuid.UUID) (*Subscription, error) {
	return s.end(ctx, businessID, EventRetriesExhausted, ReasonNonPayment, func(sub *Subscription, _ time.Time) error {
		if sub.Status != StatusPastDue {
			return ErrNothingOutstanding
		}
		if !s.policy.Exhausted(sub.FailedPaymentCount) {
			return ErrRetriesRemaining
		}
		return nil
	})
}

// ExpireTrial ends a trial that could not be converted.
func (s *Service) ExpireTrial(ctx context.Context, businessID uuid.UUID) (*Subscription, error) {
	return s.end(ctx, businessID, EventExpire, ReasonTrialExpired, func(sub *Subscription, now time.Time) error {
		if !sub.IsTrialing() {
			return ErrNotInTrial
		}
		if !sub.TrialEnded(now) {
			return ErrTrialNotEnded
		}
		return nil
	})
}

// ExpireIncomplete ends a subscription whose first payment was never authenticated.
func (s *Service) ExpireIncomplete(ctx context.Context, businessID uuid.UUID) (*Subscription, error) {
	return s.end(ctx, businessID, EventExpire, ReasonIncomplete, func(sub *Subscription, _ time.Time) error {
		if sub.Status != StatusIncomplete {
			return ErrNothingOutstanding
		}
		return nil
	})
}

func (s *Service) end(ctx context.Context, businessID uuid.UUID, ev Event, reason string, check func(*Subscription, time.Time) error) (*Subscription, error) {
	var sub *Subscription
	err := s.withBusiness(ctx, businessID, func(ctx context.Context) error {
		cur, err := s.store.GetByBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := check(cur, now); err != nil {
			return err
		}
		if err := s.transition(ctx, &change{sub: cur, plan: s.plans[cur.PlanID], now: now, reason: reason}, ev); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	return sub, err
}

// due is what a billing check decided.
type due struct {
	kind               string // charge kind for the payment description
	missingMethodFails bool   // a missing payment method counts as a failed charge
	endReason          string // when set, cancel with this reason instead of charging
}

// billing loads the business's subscription, lets check decide what is due,
// and charges or ends it accordingly.
func (s *Service) billing(ctx context.Context, businessID uuid.UUID, check func(*Subscription, time.Time) (due, error)) (*Outcome, error) {
	var out *Outcome
	err := s.withBusiness(ctx, businessID, func(ctx context.Context) error {
		cur, err := s.store.GetByBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		d, err := check(cur, now)
		if err != nil {
			return err
		}
		plan, err := s.Plan(cur.PlanID)
		if err != nil {
			return err
		}
		c := &change{sub: cur, plan: plan, now: now, reason: d.endReason}

		if d.endReason != "" {
			out = &Outcome{Subscription: cur, From: cur.Status, Event: EventCancel}
			return s.transition(ctx, c, EventCancel)
		}
		out, err = s.bill(ctx, c, d.kind, d.missingMethodFails)
		return err
	})
	return out, err
}

// bill charges c.sub and fires the event matching the result.
func (s *Service) bill(ctx context.Context, c *change, kind string, missingMethodFails bool) (*Outcome, error) {
	out := &Outcome{Subscription: c.sub, From: c.sub.Status}

	ch, err := s.charger.Charge(ctx, c.sub, c.plan, fmt.Sprintf("%s subscription, %s", c.plan.Name, kind))
	out.Charge = ch

	// with a charge in hand, err can only be ledger.ErrOutcomeNotRecorded, which
	// the ledger already logged for reconciliation; the subscription follows the gateway
	var (
		ev     Event
		result error
	)
	switch {
	case ch == nil && errors.Is(err, ErrNoPaymentMethod) && missingMethodFails:
		ev, result = EventChargeFailed, ErrNoPaymentMethod
	case ch == nil:
		return out, err
	case ch.Succeeded():
		ev = EventChargeSucceeded
		c.sub.PendingDiscount = ch.Pending
	case c.sub.Status == StatusUnpaid && gateway.RequiresCustomerAction(ch.Payment.FailureCode):
		ev, result = EventActionRequired, paymentFailure(ch.Payment)
	default:
		ev, result = EventChargeFailed, paymentFailure(ch.Payment)
	}
	if ch != nil {
		pmID := ch.Method.ID
		c.sub.PaymentMethodID = &pmID
	}

	// money may have moved; the transition must be stored even if the caller gave up
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.transition(persistCtx, c, ev); err != nil {
		return out, err
	}
	out.Event = ev
	return out, result
}

func paymentFailure(p *ledger.Payment) error {
	if p.FailureMessage == "" {
		return fmt.Errorf("%w (%s)", ErrPaymentFailed, cmp.Or(p.FailureCode, "unknown"))
	}
	return fmt.Errorf("%w: %s", ErrPaymentFailed, p.FailureMessage)
}

// transition fires ev for c.sub and saves the result.
func (s *Service) transition(ctx context.Context, c *change, ev Event) error {
	from := c.sub.Status
	to, err := s.machine.Fire(ctx, from, ev, c)
	if err != nil {
		return errors.Join(ErrInvalidTransition, err)
	}
	c.sub.Status = to
	c.sub.UpdatedAt = c.now
	if err := s.save(ctx, c.sub); err != nil {
		return err
	}

	level := slog.LevelInfo
	if to == StatusPastDue || to.Terminal() {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "subscription transitioned",
		logger.BusinessID(c.sub.BusinessID),
		logger.SubscriptionID(c.sub.ID),
		slog.String("from", string(from)),
		logger.Status(to),
		slog.String("event", string(ev)),
		logger.RetryCount(c.sub.FailedPaymentCount),
	)
	return nil
}

func (s *Service) save(ctx context.Context, sub *Subscription) error {
	if err := s.store.Update(ctx, sub); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *Service) withBusiness(ctx context.Context, businessID uuid.UUID, fn func(ctx context.Context) error) error {
	if businessID == uuid.Nil {
		return ErrMissingBusinessID
	}
	return lock.With(ctx, s.locker, "subscription:business:"+businessID.String(), s.lockTTL, fn)
}

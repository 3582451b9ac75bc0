package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/pkg/config"
	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/pagination"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

// Service owns the booking lifecycle. Every status change appends exactly one
// timeline entry in the same transaction, with a timestamp strictly greater
// than the previous entry's.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Create(ctx context.Context, input CreateInput) (*models.Booking, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*Page, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, params pagination.Params) (*Page, error)

	Confirm(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*models.Booking, error)
	Reschedule(ctx context.Context, id uuid.UUID, actor Actor, newScheduledAt time.Time) (*RescheduleResult, error)
	Start(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error)

	AdjustPricing(ctx context.Context, id uuid.UUID, input PricingInput) (*models.Booking, error)

	CanBeCancelled(booking *models.Booking, now time.Time) bool
	CanBeRescheduled(booking *models.Booking, now time.Time) bool

	RecordPaymentCompleted(ctx context.Context, id uuid.UUID, method enums.PaymentMethod, transactionID string, paidAt time.Time) error
	RecordRefund(ctx context.Context, id uuid.UUID, fullyRefunded bool, note string, actor Actor) error
}

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor identifies who performed a lifecycle action.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// CreateInput carries everything needed to open a booking. The service
// snapshot is copied here and never re-read from the live catalog.
type CreateInput struct {
	CustomerID      uuid.UUID
	ProviderID      uuid.UUID
	ServiceID       uuid.UUID
	Service         models.ServiceSnapshot
	ScheduledAt     time.Time
	DurationMinutes int
	Location        *types.Address
	EstimatedCost   decimal.Decimal
	Discount        decimal.Decimal
	Taxes           decimal.Decimal
	Currency        enums.Currency
}

// PricingInput adjusts the cost snapshot prior to payment completion.
type PricingInput struct {
	FinalCost *decimal.Decimal
	Discount  *decimal.Decimal
	Taxes     *decimal.Decimal
}

// RescheduleResult reports the outcome of a reschedule. For a pending booking
// the slot moves in place and Replacement is nil. For a confirmed booking the
// original is closed as rescheduled and Replacement is the new pending
// booking.
type RescheduleResult struct {
	Booking     *models.Booking
	Replacement *models.Booking
}

// Page is one page of bookings plus the cursor for the next one.
type Page struct {
	Bookings   []models.Booking
	NextCursor string
}

type service struct {
	repo  Repository
	tx    TxRunner
	cfg   config.BookingConfig
	logg  *logger.Logger
	clock func() time.Time
}

// NewService wires a bookings service with the provided repository, runner,
// and window configuration. A nil runner applies writes without a wrapping
// transaction.
func NewService(repo Repository, tx TxRunner, cfg config.BookingConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("bookings repository required")
	}
	if cfg.CancellationWindow <= 0 {
		cfg.CancellationWindow = 24 * time.Hour
	}
	if cfg.RescheduleWindow <= 0 {
		cfg.RescheduleWindow = 48 * time.Hour
	}
	return &service{repo: repo, tx: tx, cfg: cfg, logg: logg, clock: time.Now}, nil
}

// WithTx rebinds the service to a caller-owned transaction. The rebound
// service runs its writes directly on that transaction instead of opening
// its own.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), cfg: s.cfg, logg: s.logg, clock: s.clock}
}

func (s *service) runInTx(ctx context.Context, fn func(svc *service) error) error {
	if s.tx == nil {
		return fn(s)
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.WithTx(tx).(*service))
	})
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Booking, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	duration := input.DurationMinutes
	if duration <= 0 {
		duration = 60
	}

	now := s.clock()
	booking := &models.Booking{
		ID:              uuid.New(),
		BookingNumber:   newBookingNumber(now),
		CustomerID:      input.CustomerID,
		ProviderID:      input.ProviderID,
		ServiceID:       input.ServiceID,
		Service:         input.Service,
		ScheduledAt:     input.ScheduledAt,
		DurationMinutes: duration,
		Status:          enums.BookingStatusPending,
		Location:        input.Location,
		EstimatedCost:   input.EstimatedCost.Round(2),
		Discount:        input.Discount.Round(2),
		Taxes:           input.Taxes.Round(2),
		Currency:        currency,
		Payment: models.PaymentProjection{
			Status: enums.PaymentStatusUnpaid,
		},
	}

	entry := &models.BookingTimelineEntry{
		ID:        uuid.New(),
		BookingID: booking.ID,
		Status:    enums.TimelineStatusPending,
		Note:      "booking requested",
		ActorID:   input.CustomerID,
		ActorRole: enums.ActorRoleCustomer,
		CreatedAt: now,
	}
	// Row and first timeline entry land together or not at all.
	err := s.runInTx(ctx, func(svc *service) error {
		if err := svc.repo.Create(ctx, booking); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking")
		}
		if err := svc.repo.AppendTimelineEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	booking.Timeline = append(booking.Timeline, *entry)
	return booking, nil
}

func (s *service) validateCreate(input CreateInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.ProviderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	if input.ServiceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "service id required")
	}
	if strings.TrimSpace(input.Service.Title) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "service title required")
	}
	if input.ScheduledAt.Before(s.clock()) {
		return pkgerrors.New(pkgerrors.CodeValidation, "scheduled time must be in the future")
	}
	if input.EstimatedCost.LessThanOrEqual(decimal.Zero) {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "estimated cost must be positive")
	}
	if input.Discount.IsNegative() || input.Taxes.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "discount and taxes must not be negative")
	}
	if input.Location != nil {
		if err := input.Location.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid location")
		}
	}
	return nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id required")
	}
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	return booking, nil
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*Page, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	return s.list(ctx, params, func(cursor *pagination.Cursor, limit int) ([]models.Booking, error) {
		return s.repo.ListByCustomer(ctx, customerID, cursor, limit)
	})
}

func (s *service) ListByProvider(ctx context.Context, providerID uuid.UUID, params pagination.Params) (*Page, error) {
	if providerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	return s.list(ctx, params, func(cursor *pagination.Cursor, limit int) ([]models.Booking, error) {
		return s.repo.ListByProvider(ctx, providerID, cursor, limit)
	})
}

func (s *service) list(ctx context.Context, params pagination.Params, fetch func(*pagination.Cursor, int) ([]models.Booking, error)) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	bookings, err := fetch(cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bookings")
	}

	page := &Page{Bookings: bookings}
	if len(bookings) > limit {
		page.Bookings = bookings[:limit]
		last := page.Bookings[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

// CanBeCancelled reports whether the booking may still be cancelled: status
// pending or confirmed, and more than the cancellation window remains before
// the scheduled time. Re-evaluated on every call, never cached.
func (s *service) CanBeCancelled(booking *models.Booking, now time.Time) bool {
	return s.withinWindow(booking, now, s.cfg.CancellationWindow)
}

// CanBeRescheduled mirrors CanBeCancelled with the wider reschedule window.
func (s *service) CanBeRescheduled(booking *models.Booking, now time.Time) bool {
	return s.withinWindow(booking, now, s.cfg.RescheduleWindow)
}

func (s *service) withinWindow(booking *models.Booking, now time.Time, window time.Duration) bool {
	if booking.Status != enums.BookingStatusPending && booking.Status != enums.BookingStatusConfirmed {
		return false
	}
	return booking.ScheduledAt.Sub(now) > window
}

func (s *service) Confirm(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error) {
	if note == "" {
		note = "booking confirmed by provider"
	}
	return s.transition(ctx, id, enums.BookingStatusConfirmed, actor, note, nil)
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*models.Booking, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}

	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := GuardTransition(booking.Status, enums.BookingStatusCancelled); err != nil {
		return nil, err
	}
	now := s.clock()
	if !s.CanBeCancelled(booking, now) {
		return nil, pkgerrors.New(pkgerrors.CodeOutsideWindow, "outside cancellation window").
			WithDetails(map[string]any{
				"scheduled_at": booking.ScheduledAt,
				"window":       s.cfg.CancellationWindow.String(),
			})
	}

	return s.apply(ctx, booking, enums.BookingStatusCancelled, actor, reason, map[string]any{
		"cancellation_reason": reason,
		"cancelled_by":        actor.ID,
	})
}

func (s *service) Reschedule(ctx context.Context, id uuid.UUID, actor Actor, newScheduledAt time.Time) (*RescheduleResult, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if newScheduledAt.Before(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new scheduled time must be in the future")
	}
	if !s.CanBeRescheduled(booking, now) {
		if booking.Status != enums.BookingStatusPending && booking.Status != enums.BookingStatusConfirmed {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "booking cannot be rescheduled").
				WithDetails(map[string]any{"status": booking.Status.String()})
		}
		return nil, pkgerrors.New(pkgerrors.CodeOutsideWindow, "outside reschedule window").
			WithDetails(map[string]any{
				"scheduled_at": booking.ScheduledAt,
				"window":       s.cfg.RescheduleWindow.String(),
			})
	}

	// A pending booking moves in place. A confirmed one is closed as
	// rescheduled and replaced by a fresh pending booking for the new slot,
	// so the provider has to confirm again.
	if booking.Status == enums.BookingStatusPending {
		previous := booking.ScheduledAt
		note := fmt.Sprintf("rescheduled from %s to %s", previous.UTC().Format(time.RFC3339), newScheduledAt.UTC().Format(time.RFC3339))
		err := s.runInTx(ctx, func(svc *service) error {
			updated, err := svc.repo.UpdateGuarded(ctx, booking.ID, booking.Status, map[string]any{
				"scheduled_at":          newScheduledAt,
				"previous_scheduled_at": previous,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reschedule booking")
			}
			if !updated {
				return pkgerrors.New(pkgerrors.CodeConflict, "booking modified concurrently")
			}
			return svc.appendEntry(ctx, booking, enums.TimelineStatusPending, note, actor)
		})
		if err != nil {
			return nil, err
		}
		fresh, err := s.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, err
		}
		return &RescheduleResult{Booking: fresh}, nil
	}

	previous := booking.ScheduledAt
	closed, err := s.apply(ctx, booking, enums.BookingStatusRescheduled, actor,
		fmt.Sprintf("rescheduled to %s", newScheduledAt.UTC().Format(time.RFC3339)),
		map[string]any{"previous_scheduled_at": previous})
	if err != nil {
		return nil, err
	}

	replacement, err := s.Create(ctx, CreateInput{
		CustomerID:      booking.CustomerID,
		ProviderID:      booking.ProviderID,
		ServiceID:       booking.ServiceID,
		Service:         booking.Service,
		ScheduledAt:     newScheduledAt,
		DurationMinutes: booking.DurationMinutes,
		Location:        booking.Location,
		EstimatedCost:   booking.EstimatedCost,
		Discount:        booking.Discount,
		Taxes:           booking.Taxes,
		Currency:        booking.Currency,
	})
	if err != nil {
		return nil, err
	}
	return &RescheduleResult{Booking: closed, Replacement: replacement}, nil
}

func (s *service) Start(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error) {
	if note == "" {
		note = "service started"
	}
	return s.transition(ctx, id, enums.BookingStatusInProgress, actor, note, nil)
}

func (s *service) Complete(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error) {
	if note == "" {
		note = "service completed"
	}
	return s.transition(ctx, id, enums.BookingStatusCompleted, actor, note, nil)
}

func (s *service) MarkNoShow(ctx context.Context, id uuid.UUID, actor Actor, note string) (*models.Booking, error) {
	if note == "" {
		note = "customer did not show"
	}
	return s.transition(ctx, id, enums.BookingStatusNoShow, actor, note, nil)
}

func (s *service) AdjustPricing(ctx context.Context, id uuid.UUID, input PricingInput) (*models.Booking, error) {
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// The cost snapshot freezes once money has actually moved.
	if booking.Payment.Status == enums.PaymentStatusCompleted ||
		booking.Payment.Status == enums.PaymentStatusPartialRefund ||
		booking.Payment.Status == enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pricing is frozen after payment completion")
	}

	updates := map[string]any{}
	if input.FinalCost != nil {
		if booking.FinalCost != nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "final cost already set")
		}
		if input.FinalCost.LessThanOrEqual(decimal.Zero) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "final cost must be positive")
		}
		updates["final_cost"] = input.FinalCost.Round(2)
	}
	if input.Discount != nil {
		if input.Discount.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "discount must not be negative")
		}
		updates["discount"] = input.Discount.Round(2)
	}
	if input.Taxes != nil {
		if input.Taxes.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "taxes must not be negative")
		}
		updates["taxes"] = input.Taxes.Round(2)
	}
	if len(updates) == 0 {
		return booking, nil
	}

	updated, err := s.repo.UpdateGuarded(ctx, id, booking.Status, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust pricing")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "booking modified concurrently")
	}
	return s.GetByID(ctx, id)
}

// RecordPaymentCompleted writes the payment projection after a successful
// charge and appends the payment_completed audit entry. Callers run it inside
// the coordinator's transaction alongside the payment write.
func (s *service) RecordPaymentCompleted(ctx context.Context, id uuid.UUID, method enums.PaymentMethod, transactionID string, paidAt time.Time) error {
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePaymentProjection(ctx, id, map[string]any{
		"payment_method":         method,
		"payment_status":         enums.PaymentStatusCompleted,
		"payment_transaction_id": transactionID,
		"payment_paid_at":        paidAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment projection")
	}
	return s.appendEntry(ctx, booking, enums.TimelineStatusPaymentCompleted, "payment received", Actor{ID: booking.CustomerID, Role: enums.ActorRoleSystem})
}

// RecordRefund mirrors the refund back onto the booking. Only a fully
// refunded payment flips the projection status and earns a timeline entry.
func (s *service) RecordRefund(ctx context.Context, id uuid.UUID, fullyRefunded bool, note string, actor Actor) error {
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !fullyRefunded {
		return s.repo.UpdatePaymentProjection(ctx, id, map[string]any{
			"payment_status": enums.PaymentStatusPartialRefund,
		})
	}
	now := s.clock()
	if err := s.repo.UpdatePaymentProjection(ctx, id, map[string]any{
		"payment_status":      enums.PaymentStatusRefunded,
		"payment_refunded_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment projection")
	}
	if note == "" {
		note = "payment fully refunded"
	}
	return s.appendEntry(ctx, booking, enums.TimelineStatusRefunded, note, actor)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, target enums.BookingStatus, actor Actor, note string, extra map[string]any) (*models.Booking, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := GuardTransition(booking.Status, target); err != nil {
		return nil, err
	}
	return s.apply(ctx, booking, target, actor, note, extra)
}

// apply commits the status change and its timeline entry in one transaction:
// a booking never shows a status its timeline cannot account for.
func (s *service) apply(ctx context.Context, booking *models.Booking, target enums.BookingStatus, actor Actor, note string, extra map[string]any) (*models.Booking, error) {
	updates := map[string]any{"status": target}
	for k, v := range extra {
		updates[k] = v
	}

	err := s.runInTx(ctx, func(svc *service) error {
		updated, err := svc.repo.UpdateGuarded(ctx, booking.ID, booking.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update booking status")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "booking modified concurrently")
		}
		return svc.appendEntry(ctx, booking, enums.TimelineStatusFor(target), note, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, booking.ID)
}

// appendEntry writes one timeline entry with a timestamp strictly greater
// than the previous entry's. The clock is clamped forward when it lags the
// last append, which keeps ordering strict even on coarse clocks.
func (s *service) appendEntry(ctx context.Context, booking *models.Booking, status enums.TimelineStatus, note string, actor Actor) error {
	now := s.clock()
	if latest, err := s.repo.LatestTimelineEntry(ctx, booking.ID); err == nil {
		if !now.After(latest.CreatedAt) {
			now = latest.CreatedAt.Add(time.Microsecond)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read latest timeline entry")
	}

	entry := &models.BookingTimelineEntry{
		ID:        uuid.New(),
		BookingID: booking.ID,
		Status:    status,
		Note:      note,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}
	if err := s.repo.AppendTimelineEntry(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline entry")
	}
	return nil
}

func validateActor(actor Actor) error {
	if actor.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !actor.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor role %q", actor.Role))
	}
	return nil
}

func newBookingNumber(now time.Time) string {
	return fmt.Sprintf("BK-%s-%s", now.UTC().Format("20060102"), shortID())
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

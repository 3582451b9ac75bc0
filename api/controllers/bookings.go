package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/api/responses"
	"github.com/homerunhq/homerun-backend/api/validators"
	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/pkg/db/models"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

type BookingController struct {
	svc   bookings.Service
	logg  *logger.Logger
	clock func() time.Time
}

func NewBookingController(svc bookings.Service, logg *logger.Logger) (*BookingController, error) {
	if svc == nil {
		return nil, fmt.Errorf("bookings service required")
	}
	return &BookingController{svc: svc, logg: logg, clock: time.Now}, nil
}

type createBookingRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
	ServiceID  string `json:"service_id" validate:"required,uuid"`

	Service struct {
		Title       string `json:"title" validate:"required"`
		Description string `json:"description"`
		Category    string `json:"category" validate:"required"`
	} `json:"service"`

	ScheduledAt     time.Time      `json:"scheduled_at" validate:"required"`
	DurationMinutes int            `json:"duration_minutes" validate:"omitempty,gt=0"`
	Location        *types.Address `json:"location"`

	EstimatedCost decimal.Decimal `json:"estimated_cost" validate:"required"`
	Discount      decimal.Decimal `json:"discount"`
	Taxes         decimal.Decimal `json:"taxes"`
	Currency      string          `json:"currency"`
}

func (c *BookingController) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := requireRole(actor, enums.ActorRoleCustomer); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req createBookingRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	providerID, err := parseUUIDField(req.ProviderID, "provider_id")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	serviceID, err := parseUUIDField(req.ServiceID, "service_id")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	booking, err := c.svc.Create(r.Context(), bookings.CreateInput{
		CustomerID: actor.ID,
		ProviderID: providerID,
		ServiceID:  serviceID,
		Service: models.ServiceSnapshot{
			Title:       req.Service.Title,
			Description: req.Service.Description,
			Category:    req.Service.Category,
		},
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Location:        req.Location,
		EstimatedCost:   req.EstimatedCost,
		Discount:        req.Discount,
		Taxes:           req.Taxes,
		Currency:        currency,
	})
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithBookingID(r.Context(), booking.ID.String())
	c.logg.Info(ctx, "booking.created")
	responses.WriteSuccessStatus(w, http.StatusCreated, toBookingResponse(booking))
}

func (c *BookingController) Get(w http.ResponseWriter, r *http.Request) {
	booking, _, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, toBookingResponse(booking))
}

type bookingPageResponse struct {
	Bookings   []bookingResponse `json:"bookings"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// List returns the caller's bookings: a customer sees the bookings they
// opened, a provider the ones they fulfill. Newest first, cursor paginated.
func (c *BookingController) List(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	params := paginationParams(r)
	var page *bookings.Page
	switch actor.Role {
	case enums.ActorRoleCustomer:
		page, err = c.svc.ListByCustomer(r.Context(), actor.ID, params)
	case enums.ActorRoleProvider:
		page, err = c.svc.ListByProvider(r.Context(), actor.ID, params)
	default:
		err = pkgerrors.New(pkgerrors.CodeForbidden, "listing requires a customer or provider role")
	}
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	responses.WriteSuccess(w, bookingPageResponse{
		Bookings:   toBookingResponses(page.Bookings),
		NextCursor: page.NextCursor,
	})
}

type noteRequest struct {
	Note string `json:"note" validate:"omitempty,max=500"`
}

func (c *BookingController) Confirm(w http.ResponseWriter, r *http.Request) {
	c.providerTransition(w, r, "booking.confirmed", c.svc.Confirm)
}

func (c *BookingController) Start(w http.ResponseWriter, r *http.Request) {
	c.providerTransition(w, r, "booking.started", c.svc.Start)
}

func (c *BookingController) Complete(w http.ResponseWriter, r *http.Request) {
	c.providerTransition(w, r, "booking.completed", c.svc.Complete)
}

func (c *BookingController) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	c.providerTransition(w, r, "booking.no_show", c.svc.MarkNoShow)
}

func (c *BookingController) providerTransition(
	w http.ResponseWriter,
	r *http.Request,
	event string,
	apply func(ctx context.Context, id uuid.UUID, actor bookings.Actor, note string) (*models.Booking, error),
) {
	booking, actor, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := requireRole(actor, enums.ActorRoleProvider); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req noteRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	updated, err := apply(r.Context(), booking.ID, actor, req.Note)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithBookingID(r.Context(), updated.ID.String())
	c.logg.Info(ctx, event)
	responses.WriteSuccess(w, toBookingResponse(updated))
}

type cancelBookingRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (c *BookingController) Cancel(w http.ResponseWriter, r *http.Request) {
	booking, actor, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req cancelBookingRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	updated, err := c.svc.Cancel(r.Context(), booking.ID, actor, req.Reason)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithBookingID(r.Context(), updated.ID.String())
	c.logg.Info(ctx, "booking.cancelled")
	responses.WriteSuccess(w, toBookingResponse(updated))
}

type rescheduleBookingRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type rescheduleResponse struct {
	Booking     bookingResponse  `json:"booking"`
	Replacement *bookingResponse `json:"replacement,omitempty"`
}

func (c *BookingController) Reschedule(w http.ResponseWriter, r *http.Request) {
	booking, actor, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req rescheduleBookingRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	result, err := c.svc.Reschedule(r.Context(), booking.ID, actor, req.ScheduledAt)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	resp := rescheduleResponse{Booking: toBookingResponse(result.Booking)}
	if result.Replacement != nil {
		replacement := toBookingResponse(result.Replacement)
		resp.Replacement = &replacement
	}

	ctx := c.logg.WithBookingID(r.Context(), booking.ID.String())
	c.logg.Info(ctx, "booking.rescheduled")
	responses.WriteSuccess(w, resp)
}

type adjustPricingRequest struct {
	FinalCost *decimal.Decimal `json:"final_cost"`
	Discount  *decimal.Decimal `json:"discount"`
	Taxes     *decimal.Decimal `json:"taxes"`
}

func (c *BookingController) AdjustPricing(w http.ResponseWriter, r *http.Request) {
	booking, actor, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := requireRole(actor, enums.ActorRoleProvider); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req adjustPricingRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	updated, err := c.svc.AdjustPricing(r.Context(), booking.ID, bookings.PricingInput{
		FinalCost: req.FinalCost,
		Discount:  req.Discount,
		Taxes:     req.Taxes,
	})
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithBookingID(r.Context(), updated.ID.String())
	c.logg.Info(ctx, "booking.pricing_adjusted")
	responses.WriteSuccess(w, toBookingResponse(updated))
}

type eligibilityResponse struct {
	CanBeCancelled   bool `json:"can_be_cancelled"`
	CanBeRescheduled bool `json:"can_be_rescheduled"`
}

// Eligibility evaluates the cancellation and reschedule windows at request
// time. The answer is never cached.
func (c *BookingController) Eligibility(w http.ResponseWriter, r *http.Request) {
	booking, _, err := c.loadForActor(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	now := c.clock()
	responses.WriteSuccess(w, eligibilityResponse{
		CanBeCancelled:   c.svc.CanBeCancelled(booking, now),
		CanBeRescheduled: c.svc.CanBeRescheduled(booking, now),
	})
}

func (c *BookingController) loadForActor(r *http.Request) (*models.Booking, bookings.Actor, error) {
	actor, err := actorFromRequest(r)
	if err != nil {
		return nil, bookings.Actor{}, err
	}
	id, err := uuidParam(r, "bookingID")
	if err != nil {
		return nil, bookings.Actor{}, err
	}
	booking, err := c.svc.GetByID(r.Context(), id)
	if err != nil {
		return nil, bookings.Actor{}, err
	}
	if err := requireParticipant(actor, booking.CustomerID, booking.ProviderID); err != nil {
		return nil, bookings.Actor{}, err
	}
	return booking, actor, nil
}

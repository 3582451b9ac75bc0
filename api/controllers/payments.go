package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/homerunhq/homerun-backend/api/responses"
	"github.com/homerunhq/homerun-backend/api/validators"
	"github.com/homerunhq/homerun-backend/internal/fees"
	"github.com/homerunhq/homerun-backend/internal/payments"
	"github.com/homerunhq/homerun-backend/internal/transactions"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/logger"
)

type PaymentController struct {
	coordinator transactions.Coordinator
	payments    payments.Service
	logg        *logger.Logger
}

func NewPaymentController(coordinator transactions.Coordinator, paymentsSvc payments.Service, logg *logger.Logger) (*PaymentController, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("transaction coordinator required")
	}
	if paymentsSvc == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &PaymentController{coordinator: coordinator, payments: paymentsSvc, logg: logg}, nil
}

type processPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Method      string          `json:"method" validate:"required,oneof=card wallet cash"`
	SourceToken string          `json:"source_token"`
	Metadata    json.RawMessage `json:"metadata"`
}

type processPaymentResponse struct {
	Payment paymentResponse `json:"payment"`
	Booking bookingResponse `json:"booking"`
}

func (c *PaymentController) Process(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	bookingID, err := uuidParam(r, "bookingID")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req processPaymentRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	method, err := enums.ParsePaymentMethod(req.Method)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
		return
	}

	result, err := c.coordinator.ProcessPayment(r.Context(), transactions.ProcessPaymentInput{
		BookingID:   bookingID,
		RequesterID: actor.ID,
		Amount:      req.Amount,
		Method:      method,
		SourceToken: req.SourceToken,
		Metadata:    req.Metadata,
	})
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithBookingID(r.Context(), bookingID.String())
	ctx = c.logg.WithPaymentID(ctx, result.Payment.ID.String())
	c.logg.Info(ctx, "payment.completed")
	responses.WriteSuccessStatus(w, http.StatusCreated, processPaymentResponse{
		Payment: toPaymentResponse(result.Payment),
		Booking: toBookingResponse(result.Booking),
	})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

type refundResponse struct {
	Payment       paymentResponse `json:"payment"`
	RefundID      string          `json:"refund_id"`
	Amount        decimal.Decimal `json:"amount"`
	FullyRefunded bool            `json:"fully_refunded"`
}

func (c *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	paymentID, err := uuidParam(r, "paymentID")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	var req refundRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	result, err := c.coordinator.ProcessRefund(r.Context(), transactions.ProcessRefundInput{
		PaymentID:   paymentID,
		RequesterID: actor.ID,
		Amount:      req.Amount,
		Reason:      req.Reason,
	})
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	ctx := c.logg.WithPaymentID(r.Context(), paymentID.String())
	c.logg.Info(ctx, "refund.completed")
	responses.WriteSuccess(w, refundResponse{
		Payment:       toPaymentResponse(result.Payment),
		RefundID:      result.RefundID,
		Amount:        result.Amount,
		FullyRefunded: result.FullyRefunded,
	})
}

func (c *PaymentController) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	paymentID, err := uuidParam(r, "paymentID")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	payment, err := c.payments.GetByID(r.Context(), paymentID)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := requireParticipant(actor, payment.CustomerID, payment.ProviderID); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, toPaymentResponse(payment))
}

// ListByBooking returns the full ledger for a booking, failed attempts
// included.
func (c *PaymentController) ListByBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	bookingID, err := uuidParam(r, "bookingID")
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}

	entries, err := c.payments.ListByBooking(r.Context(), bookingID)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	for i := range entries {
		if err := requireParticipant(actor, entries[i].CustomerID, entries[i].ProviderID); err != nil {
			responses.WriteError(r.Context(), c.logg, w, err)
			return
		}
	}
	responses.WriteSuccess(w, map[string]any{"payments": toPaymentResponses(entries)})
}

type feeQuoteResponse struct {
	Gross decimal.Decimal `json:"gross"`
	fees.Breakdown
}

// Quote previews the fee split for a gross amount without touching any state.
func (c *PaymentController) Quote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	gross, err := decimal.NewFromString(raw)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.New(pkgerrors.CodeValidation, "amount query parameter must be a decimal").
				WithDetails(map[string]string{"amount": raw}))
		return
	}

	breakdown, err := fees.Calculate(gross)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, feeQuoteResponse{Gross: gross.Round(2), Breakdown: breakdown})
}

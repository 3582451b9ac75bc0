package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/homerunhq/homerun-backend/api/controllers"
	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/internal/payments"
	"github.com/homerunhq/homerun-backend/internal/transactions"
	"github.com/homerunhq/homerun-backend/pkg/auth"
	"github.com/homerunhq/homerun-backend/pkg/config"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/metrics"
	"github.com/homerunhq/homerun-backend/pkg/types"
)

type okGateway struct{}

func (okGateway) Charge(ctx context.Context, input transactions.ChargeInput) (*transactions.ChargeResult, error) {
	return &transactions.ChargeResult{
		TransactionID: "txn-" + uuid.NewString()[:8],
		Raw:           json.RawMessage(`{"status":"COMPLETED"}`),
	}, nil
}

func (okGateway) RefundPayment(ctx context.Context, input transactions.GatewayRefundInput) (*transactions.GatewayRefundResult, error) {
	return &transactions.GatewayRefundResult{
		RefundID: "gwref-" + uuid.NewString()[:8],
		Raw:      json.RawMessage(`{"status":"COMPLETED"}`),
	}, nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

var routerJWTConfig = config.JWTConfig{
	Secret:            "router-test-secret",
	Issuer:            "homerun-test",
	ExpirationMinutes: 15,
}

func setupRouterTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	stmts := []string{`
CREATE TABLE IF NOT EXISTS bookings (
  id TEXT PRIMARY KEY,
  booking_number TEXT NOT NULL UNIQUE,
  customer_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  service_id TEXT NOT NULL,
  service_title TEXT NOT NULL,
  service_description TEXT NOT NULL DEFAULT '',
  service_category TEXT NOT NULL,
  scheduled_at DATETIME NOT NULL,
  duration_minutes INTEGER NOT NULL DEFAULT 60,
  status TEXT NOT NULL DEFAULT 'pending',
  location TEXT,
  estimated_cost TEXT NOT NULL,
  final_cost TEXT,
  discount TEXT NOT NULL DEFAULT '0',
  taxes TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT 'USD',
  payment_method TEXT,
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_transaction_id TEXT,
  payment_paid_at DATETIME,
  payment_refunded_at DATETIME,
  cancellation_reason TEXT,
  cancelled_by TEXT,
  previous_scheduled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS booking_timeline_entries (
  id TEXT PRIMARY KEY,
  booking_id TEXT NOT NULL,
  status TEXT NOT NULL,
  note TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT 'system',
  created_at DATETIME NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  payment_number TEXT NOT NULL UNIQUE,
  booking_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  provider_id TEXT NOT NULL,
  gross TEXT NOT NULL,
  platform_fee TEXT NOT NULL,
  processing_fee TEXT NOT NULL,
  net_amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_transaction_id TEXT,
  gateway_response TEXT,
  initiated_at DATETIME NOT NULL,
  completed_at DATETIME,
  failed_at DATETIME,
  refunded_at DATETIME,
  refunded_total TEXT NOT NULL DEFAULT '0',
  refund_id TEXT,
  refund_reason TEXT,
  refund_initiated_by TEXT,
  gateway_refund_id TEXT,
  refund_gateway_response TEXT,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type routerTxRunner struct {
	db *gorm.DB
}

func (r *routerTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()

	db := setupRouterTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	paymentsSvc, err := payments.NewService(payments.NewRepository(db), logg)
	require.NoError(t, err)
	bookingsSvc, err := bookings.NewService(bookings.NewRepository(db), &routerTxRunner{db: db}, config.BookingConfig{}, logg)
	require.NoError(t, err)

	coord, err := transactions.NewCoordinator(
		paymentsSvc,
		bookingsSvc,
		okGateway{},
		nil,
		&routerTxRunner{db: db},
		metrics.NewTransactionMetrics(nil),
		logg,
		time.Second,
	)
	require.NoError(t, err)

	bookingController, err := controllers.NewBookingController(bookingsSvc, logg)
	require.NoError(t, err)
	paymentController, err := controllers.NewPaymentController(coord, paymentsSvc, logg)
	require.NoError(t, err)

	return NewRouter(Deps{
		Config:   &config.Config{JWT: routerJWTConfig},
		Logger:   logg,
		Health:   controllers.NewHealthController(okPinger{}, okPinger{}, logg),
		Bookings: bookingController,
		Payments: paymentController,
	})
}

func bearerFor(t *testing.T, userID uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(routerJWTConfig, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, handler http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthLive(t *testing.T) {
	handler := setupRouter(t)
	resp := doJSON(t, handler, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}

func TestAPIRequiresAuth(t *testing.T) {
	handler := setupRouter(t)
	resp := doJSON(t, handler, http.MethodGet, "/api/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestBookingAndPaymentFlow(t *testing.T) {
	handler := setupRouter(t)
	customerID := uuid.New()
	providerID := uuid.New()
	customer := bearerFor(t, customerID, enums.ActorRoleCustomer)
	provider := bearerFor(t, providerID, enums.ActorRoleProvider)

	created := doJSON(t, handler, http.MethodPost, "/api/v1/bookings", customer, map[string]any{
		"provider_id": providerID.String(),
		"service_id":  uuid.NewString(),
		"service": map[string]string{
			"title":    "Gutter Cleaning",
			"category": "exterior",
		},
		"scheduled_at":   time.Now().Add(96 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_cost": "100.00",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var envelope struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&envelope))
	bookingID := envelope.Data.ID
	assert.Equal(t, "pending", envelope.Data.Status)

	confirmed := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/confirm", bookingID), provider, nil)
	require.Equal(t, http.StatusOK, confirmed.Code, confirmed.Body.String())

	eligibility := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%s/eligibility", bookingID), customer, nil)
	require.Equal(t, http.StatusOK, eligibility.Code)
	var elig struct {
		Data struct {
			CanBeCancelled   bool `json:"can_be_cancelled"`
			CanBeRescheduled bool `json:"can_be_rescheduled"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(eligibility.Body).Decode(&elig))
	assert.True(t, elig.Data.CanBeCancelled)
	assert.True(t, elig.Data.CanBeRescheduled)

	paid := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payments", bookingID), customer, map[string]any{
		"amount": "100.00",
		"method": "card",
	})
	require.Equal(t, http.StatusCreated, paid.Code, paid.Body.String())

	var payEnvelope struct {
		Data struct {
			Payment struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Gross  string `json:"gross"`
			} `json:"payment"`
			Booking struct {
				Payment struct {
					Status string `json:"status"`
				} `json:"payment"`
			} `json:"booking"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(paid.Body).Decode(&payEnvelope))
	assert.Equal(t, "completed", payEnvelope.Data.Payment.Status)
	assert.Equal(t, "completed", payEnvelope.Data.Booking.Payment.Status)

	refunded := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/refunds", payEnvelope.Data.Payment.ID), customer, map[string]any{
		"amount": "100.00",
		"reason": "service cancelled",
	})
	require.Equal(t, http.StatusOK, refunded.Code, refunded.Body.String())

	var refundEnvelope struct {
		Data struct {
			FullyRefunded bool `json:"fully_refunded"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(refunded.Body).Decode(&refundEnvelope))
	assert.True(t, refundEnvelope.Data.FullyRefunded)
}

func TestBookingAccessRestrictedToParticipants(t *testing.T) {
	handler := setupRouter(t)
	customerID := uuid.New()
	providerID := uuid.New()
	customer := bearerFor(t, customerID, enums.ActorRoleCustomer)

	created := doJSON(t, handler, http.MethodPost, "/api/v1/bookings", customer, map[string]any{
		"provider_id": providerID.String(),
		"service_id":  uuid.NewString(),
		"service": map[string]string{
			"title":    "Window Washing",
			"category": "exterior",
		},
		"scheduled_at":   time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"estimated_cost": "55.00",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(created.Body).Decode(&envelope))

	stranger := bearerFor(t, uuid.New(), enums.ActorRoleCustomer)
	resp := doJSON(t, handler, http.MethodGet, "/api/v1/bookings/"+envelope.Data.ID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
}

func TestFeeQuote(t *testing.T) {
	handler := setupRouter(t)
	token := bearerFor(t, uuid.New(), enums.ActorRoleCustomer)

	resp := doJSON(t, handler, http.MethodGet, "/api/v1/payments/quote?amount=100.00", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope struct {
		Data struct {
			Gross         string `json:"gross"`
			PlatformFee   string `json:"platform_fee"`
			ProcessingFee string `json:"processing_fee"`
			NetAmount     string `json:"net_amount"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "5", envelope.Data.PlatformFee)
	assert.Equal(t, "3.2", envelope.Data.ProcessingFee)
	assert.Equal(t, "91.8", envelope.Data.NetAmount)
}

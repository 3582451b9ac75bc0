package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homerunhq/homerun-backend/api/middleware"
	"github.com/homerunhq/homerun-backend/api/validators"
	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/pkg/enums"
	pkgerrors "github.com/homerunhq/homerun-backend/pkg/errors"
	"github.com/homerunhq/homerun-backend/pkg/pagination"
)

func actorFromRequest(r *http.Request) (bookings.Actor, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return bookings.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	role, ok := middleware.ActorRoleFromContext(r.Context())
	if !ok {
		return bookings.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return bookings.Actor{ID: userID, Role: role}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).
			WithDetails(map[string]string{name: raw})
	}
	return id, nil
}

func paginationParams(r *http.Request) pagination.Params {
	query := r.URL.Query()
	params := pagination.Params{Cursor: query.Get("cursor")}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			params.Limit = limit
		}
	}
	return params
}

// requireParticipant restricts access to the two parties on a booking.
func requireParticipant(actor bookings.Actor, customerID, providerID uuid.UUID) error {
	switch actor.Role {
	case enums.ActorRoleCustomer:
		if actor.ID == customerID {
			return nil
		}
	case enums.ActorRoleProvider:
		if actor.ID == providerID {
			return nil
		}
	case enums.ActorRoleSystem:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this booking")
}

func requireRole(actor bookings.Actor, role enums.ActorRole) error {
	if actor.Role != role {
		return pkgerrors.New(pkgerrors.CodeForbidden, "requires "+role.String()+" role")
	}
	return nil
}

func parseUUIDField(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+field).
			WithDetails(map[string]string{field: raw})
	}
	return id, nil
}

func parseCurrency(raw string) (enums.Currency, error) {
	if raw == "" {
		return enums.CurrencyUSD, nil
	}
	currency, err := enums.ParseCurrency(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	return currency, nil
}

// decodeOptionalBody tolerates an empty request body; endpoints with only
// optional fields accept a bare POST.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

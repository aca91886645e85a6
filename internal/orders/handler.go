package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

const idempotencyModule = "order.create"

// Handler exposes the order endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	auth        auth.Middleware
	idempotency *shared.IdempotencyStore
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authMW auth.Middleware, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, auth: authMW, idempotency: idempotency}
}

// MountRoutes registers order routes relative to /v1/orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.show)
}

// MountQuotationRoutes registers order creation relative to /v1/quotations.
func (h *Handler) MountQuotationRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleCustomer, shared.RoleSales))
		r.Post("/{id}/create-order", h.create)
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	o, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, quotationID, ok := h.target(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		stored, done, err := h.idempotency.Reserve(r.Context(), idempotencyModule, key)
		if err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
				return
			}
			h.fail(w, r, err)
			return
		}
		if done {
			id, err := strconv.ParseInt(stored, 10, 64)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			o, err := h.service.Get(r.Context(), p, id)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			httpx.JSON(w, http.StatusOK, o)
			return
		}
	}

	o, created, err := h.service.CreateFromQuotation(r.Context(), p, quotationID)
	if err != nil {
		if key != "" {
			_ = h.idempotency.Delete(r.Context(), idempotencyModule, key)
		}
		h.fail(w, r, err)
		return
	}
	if key != "" {
		if err := h.idempotency.Complete(r.Context(), idempotencyModule, key, strconv.FormatInt(o.ID, 10)); err != nil {
			h.logger.Warn("store idempotency result", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, o)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Principal, int64, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrNoPrincipal.Error())
		return shared.Principal{}, 0, false
	}
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return shared.Principal{}, 0, false
	}
	return p, id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, httpx.ErrUnavailable) || !isDomainError(err) {
		h.logger.Error("order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{httpx.ErrNotFound, httpx.ErrConflict, httpx.ErrDuplicate, httpx.ErrForbidden, httpx.ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package quotations

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// Handler exposes the quotation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    auth.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authMW auth.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: authMW}
}

// MountRoutes registers quotation routes relative to /v1/quotations.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.show)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RolePlanning))
		r.Post("/create-from-rfq", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleSales))
		r.Post("/{id}/send-to-customer", h.send)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleCustomer))
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrNoPrincipal.Error())
		return
	}
	var req CreateFromRFQRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
		return
	}
	q, err := h.service.CreateFromRFQ(r.Context(), p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.service.Project(q))
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	q, err := h.service.SendToCustomer(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Project(q))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	q, err := h.service.Approve(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Project(q))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
			return
		}
	}
	q, err := h.service.Reject(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Project(q))
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Principal, int64, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrNoPrincipal.Error())
		return shared.Principal{}, 0, false
	}
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quotation id")
		return shared.Principal{}, 0, false
	}
	return p, id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if rfq.ResultLabel(err) == "error" || errors.Is(err, httpx.ErrUnavailable) {
		h.logger.Error("quotation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package rfq

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

const idempotencyModule = "rfq.create"

// Handler exposes the RFQ endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	auth        auth.Middleware
	idempotency *shared.IdempotencyStore
	publicLimit func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. publicLimit throttles guest submissions.
func NewHandler(
	logger *slog.Logger,
	service *Service,
	authMW auth.Middleware,
	idempotency *shared.IdempotencyStore,
	publicLimit func(http.Handler) http.Handler,
) *Handler {
	if publicLimit == nil {
		publicLimit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:      logger,
		service:     service,
		auth:        authMW,
		idempotency: idempotency,
		publicLimit: publicLimit,
	}
}

// MountRoutes registers RFQ routes relative to /v1/rfqs.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.publicLimit).Post("/public", h.createPublic)

	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Get("/{id}/events", h.events)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleCustomer, shared.RoleSales))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleSales, shared.RoleDirector))
		r.Post("/{id}/send", h.transition(h.service.Send))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleDirector))
		r.Post("/{id}/assign", h.assign(h.service.Assign))
		r.Post("/{id}/assign-and-send", h.assign(h.service.AssignAndSend))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleSales))
		r.Post("/{id}/preliminary-check", h.transition(h.service.PreliminaryCheck))
		r.Post("/{id}/forward-to-planning", h.transition(h.service.ForwardToPlanning))
		r.Post("/{id}/confirm-and-forward", h.transition(h.service.ConfirmAndForward))
		r.Post("/{id}/reconfirm", h.reconfirm)
		r.Post("/{id}/cancel", h.cancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RolePlanning))
		r.Post("/{id}/receive-by-planning", h.transition(h.service.ReceiveByPlanning))
		r.Post("/{id}/check-machine-capacity", h.checkCapacity(DimensionMachine))
		r.Post("/{id}/check-warehouse-capacity", h.checkCapacity(DimensionWarehouse))
		r.Post("/{id}/capacity-evaluate", h.evaluate)
	})
}

// ============================================================================
// READS
// ============================================================================

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, err := parseListQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, total, err := h.service.List(r.Context(), p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func parseListQuery(r *http.Request) (ListRFQsRequest, error) {
	q := r.URL.Query()
	var req ListRFQsRequest
	verr := &ValidationError{}
	if raw := q.Get("status"); raw != "" {
		status := Status(strings.ToUpper(raw))
		if !status.Valid() {
			verr.add("status", "is not a known status")
		}
		req.Status = &status
	}
	optionalID := func(name string) *int64 {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			verr.add(name, "must be a positive integer")
			return nil
		}
		return &id
	}
	req.CustomerID = optionalID("customer_id")
	req.SalesID = optionalID("sales_id")
	req.PlanningID = optionalID("planning_id")
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				verr.add(name, "must be an integer")
				continue
			}
			*dst = n
		}
	}
	return req, verr.orNil()
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

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	events, err := h.service.Events(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": events})
}

// ============================================================================
// CREATE / EDIT
// ============================================================================

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	h.createFor(w, r, &p)
}

func (h *Handler) createPublic(w http.ResponseWriter, r *http.Request) {
	h.createFor(w, r, nil)
}

func (h *Handler) createFor(w http.ResponseWriter, r *http.Request, p *shared.Principal) {
	var req CreateRFQRequest
	if !h.decode(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		key = callerKey(r, p, key)
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
			h.replay(w, r, p, stored)
			return
		}
	}

	created, err := h.service.Create(r.Context(), p, req)
	if err != nil {
		if key != "" {
			_ = h.idempotency.Delete(r.Context(), idempotencyModule, key)
		}
		h.fail(w, r, err)
		return
	}
	if key != "" {
		if err := h.idempotency.Complete(r.Context(), idempotencyModule, key, strconv.FormatInt(created.ID, 10)); err != nil {
			h.logger.Warn("store idempotency result", slog.Int64("rfq_id", created.ID), slog.Any("error", err))
		}
	}
	h.respond(w, r, http.StatusCreated, p, created)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, p *shared.Principal, stored string) {
	id, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	existing, err := h.service.Find(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ownsReplay(p, existing) {
		httpx.Problem(w, http.StatusConflict, "Conflict", "idempotency key was used for another request")
		return
	}
	h.respond(w, r, http.StatusOK, p, existing)
}

// callerKey scopes an idempotency key to its sender. Guests are told apart
// by client address.
func callerKey(r *http.Request, p *shared.Principal, key string) string {
	if p == nil {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return "guest:" + host + ":" + key
	}
	return "user:" + strconv.FormatInt(p.UserID, 10) + ":" + key
}

func ownsReplay(p *shared.Principal, existing *RFQ) bool {
	if p == nil {
		return existing.CreatedBy == nil && existing.CustomerID == nil
	}
	return existing.CreatedBy != nil && *existing.CreatedBy == p.UserID && canRead(*p, existing)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req UpdateRFQRequest
	if !h.decode(w, r, &req) {
		return
	}
	updated, err := h.service.Update(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, &p, updated)
}

// ============================================================================
// TRANSITIONS
// ============================================================================

type transitionFunc func(ctx context.Context, p shared.Principal, id int64) (*RFQ, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := h.target(w, r)
		if !ok {
			return
		}
		out, err := fn(r.Context(), p, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.respond(w, r, http.StatusOK, &p, out)
	}
}

type assignFunc func(ctx context.Context, p shared.Principal, id int64, req AssignRequest) (*RFQ, error)

func (h *Handler) assign(fn assignFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var req AssignRequest
		if !h.decode(w, r, &req) {
			return
		}
		out, err := fn(r.Context(), p, id, req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.respond(w, r, http.StatusOK, &p, out)
	}
}

func (h *Handler) reconfirm(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req ReconfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Reconfirm(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, &p, out)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Cancel(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, &p, out)
}

func (h *Handler) checkCapacity(dim Dimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := h.target(w, r)
		if !ok {
			return
		}
		result, err := h.service.CheckCapacity(r.Context(), p, id, dim)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, result)
	}
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req CapacityVerdict
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.EvaluateCapacity(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, &p, out)
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (shared.Principal, bool) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrNoPrincipal.Error())
	}
	return p, ok
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (shared.Principal, int64, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return shared.Principal{}, 0, false
	}
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid rfq id")
		return shared.Principal{}, 0, false
	}
	return p, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, p *shared.Principal, out *RFQ) {
	if p == nil {
		httpx.JSON(w, status, out)
		return
	}
	httpx.JSON(w, status, h.service.Project(r.Context(), *p, out))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if ResultLabel(err) == "error" || errors.Is(err, httpx.ErrUnavailable) {
		h.logger.Error("rfq request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package rfq

import (
	"fmt"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
)

var (
	ErrNotFound            = fmt.Errorf("rfq not found: %w", httpx.ErrNotFound)
	ErrInvalidTransition   = fmt.Errorf("invalid status transition: %w", httpx.ErrConflict)
	ErrTerminal            = fmt.Errorf("rfq is closed: %w", httpx.ErrConflict)
	ErrAlreadyAssigned     = fmt.Errorf("rfq already assigned: %w", httpx.ErrConflict)
	ErrNotEditable         = fmt.Errorf("rfq cannot be edited in its current status: %w", httpx.ErrConflict)
	ErrCapacityNotVerified = fmt.Errorf("machine and warehouse capacity must both be checked sufficient: %w", httpx.ErrConflict)
	ErrConcurrentUpdate    = fmt.Errorf("rfq was modified concurrently, reload and retry: %w", httpx.ErrConflict)
	ErrForbidden           = fmt.Errorf("action not permitted for role: %w", httpx.ErrForbidden)
	ErrProbeUnavailable    = fmt.Errorf("capacity probe unavailable: %w", httpx.ErrUnavailable)
)

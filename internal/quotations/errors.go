package quotations

import (
	"fmt"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
)

var (
	ErrNotFound       = fmt.Errorf("quotation not found: %w", httpx.ErrNotFound)
	ErrInvalidStatus  = fmt.Errorf("invalid quotation status transition: %w", httpx.ErrConflict)
	ErrExpired        = fmt.Errorf("quotation response window has closed: %w", httpx.ErrConflict)
	ErrAlreadyQuoted  = fmt.Errorf("rfq already has a quotation: %w", httpx.ErrDuplicate)
	ErrPricing        = fmt.Errorf("pricing service unavailable: %w", httpx.ErrUnavailable)
	ErrConcurrentEdit = fmt.Errorf("quotation was modified concurrently, reload and retry: %w", httpx.ErrConflict)
)

package orders

import (
	"fmt"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
)

var (
	ErrNotFound         = fmt.Errorf("order not found: %w", httpx.ErrNotFound)
	ErrNotAccepted      = fmt.Errorf("quotation must be accepted before an order is created: %w", httpx.ErrConflict)
	ErrAlreadyCreated   = fmt.Errorf("quotation already has an order: %w", httpx.ErrDuplicate)
	ErrConcurrentCreate = fmt.Errorf("order creation already in progress, retry shortly: %w", httpx.ErrConflict)
)

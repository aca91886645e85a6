package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// TokenOptions defines the flags of the token command.
type TokenOptions struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	UserID     int64
	Role       string
	CustomerID int64
}

// IssueToken mints a bearer token for smoke tests and support sessions.
func IssueToken(opts TokenOptions) (string, error) {
	if opts.Secret == "" {
		return "", errors.New("token: secret required")
	}
	role, ok := shared.ParseRole(opts.Role)
	if !ok {
		return "", fmt.Errorf("token: unknown role %q", opts.Role)
	}
	if opts.UserID <= 0 {
		return "", errors.New("token: user id required")
	}
	p := shared.Principal{UserID: opts.UserID, Role: role}
	if role == shared.RoleCustomer {
		if opts.CustomerID <= 0 {
			return "", errors.New("token: customer tokens need a customer id")
		}
		customerID := opts.CustomerID
		p.CustomerID = &customerID
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return auth.NewTokens(opts.Secret, opts.Issuer, ttl).Issue(p)
}

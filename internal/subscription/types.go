package subscription

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by both stores when no record exists for a tenant.
// Callers treat it as "not yet provisioned", never as a failure.
var ErrNotFound = errors.New("subscription record not found")

type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusAdmin     Status = "admin"
)

func NormalizeStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// Record is the subscription state for one tenant (one Business Profile
// account). SubscriptionEnd == nil means a non-expiring subscription.
type Record struct {
	TenantID          string
	UserID            string
	Status            Status
	TrialStart        *time.Time
	TrialEnd          *time.Time
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	PlanID            string
	ProfileCount      int
	PaidLocationIDs   []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasLocation reports whether the location is already covered by a payment.
func (r Record) HasLocation(locationID string) bool {
	for _, id := range r.PaidLocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// Payment is one entry in a tenant's append-only payment history.
type Payment struct {
	ID          string
	TenantID    string
	AmountCents int64
	Currency    string
	Status      string
	LocationIDs []string
	CreatedAt   time.Time
}

const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

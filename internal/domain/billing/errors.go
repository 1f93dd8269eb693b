package billing

import "fmt"

// ValidationError rejects a request before any external call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NotFoundError reports a missing plan, customer, subscription, or
// organization where one is required.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConflictError rejects an action that contradicts the organization's
// current billing state, such as creating a second active subscription.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// QuotaError rejects session usage beyond the plan's entitlement.
type QuotaError struct {
	Used    int
	Allowed int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("session quota exceeded: %d of %d used", e.Used, e.Allowed)
}

// ExternalServiceError wraps a failed call to the payment gateway. Timeout
// marks calls that exceeded their deadline, a retryable failure class
// distinct from a definitive gateway rejection.
type ExternalServiceError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("payment gateway timeout on %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("payment gateway error on %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

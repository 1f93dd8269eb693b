// Package audit provides an append-only log of billing lifecycle events.
// Entries are written before and after side-effecting operations so the
// sequence of external calls and record mutations can be reconstructed.
package audit

import (
	"context"
	"time"
)

// Entry is a single audit record. Payload carries event-specific detail and
// is stored as JSON.
type Entry struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Payload   map[string]any `json:"payload"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder appends audit entries. Record never returns an error: audit
// failures must not abort the billing operation being audited, so
// implementations log write failures and continue.
type Recorder interface {
	Record(ctx context.Context, category string, payload map[string]any)
}

// Categories for billing lifecycle events.
const (
	CategoryBillingAction = "billing.action"
	CategoryGatewayCall   = "billing.gateway"
	CategoryWebhookEvent  = "billing.webhook"
	CategoryStateWrite    = "billing.state"
)

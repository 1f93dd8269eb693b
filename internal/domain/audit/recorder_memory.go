package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborhealth/arbor/internal/platform/middleware"
)

// MemoryRecorder keeps entries in order in memory. Used by tests to assert
// on the exact trail an operation leaves.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, category string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{
		ID:        uuid.New().String(),
		Category:  category,
		Payload:   payload,
		RequestID: middleware.RequestIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	})
}

// Entries returns a copy of all recorded entries in append order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/arborhealth/arbor/internal/platform/middleware"
)

// PGRecorder appends entries to the audit_log table. The table is
// insert-only; no update or delete path exists.
type PGRecorder struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPGRecorder(pool *pgxpool.Pool, log zerolog.Logger) *PGRecorder {
	return &PGRecorder{pool: pool, log: log}
}

func (r *PGRecorder) Record(ctx context.Context, category string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Str("category", category).Msg("audit payload marshal failed")
		return
	}

	var requestID *string
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		requestID = &rid
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_log (id, category, payload, request_id) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), category, raw, requestID,
	)
	if err != nil {
		r.log.Error().Err(err).Str("category", category).Msg("audit write failed")
	}
}

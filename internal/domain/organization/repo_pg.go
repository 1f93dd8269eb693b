package organization

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const orgCols = `id, fhir_id, name, email, active,
	subscription_status, stripe_customer_id, stripe_subscription_id,
	stripe_price_id, current_period_end,
	sessions_used, sessions_allowed, last_reset,
	version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, org *Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.FHIRID == "" {
		org.FHIRID = org.ID.String()
	}
	if org.Billing.Status == "" {
		org.Billing.Status = StatusNone
	}
	org.VersionID = 1

	_, err := r.pool.Exec(ctx, `
		INSERT INTO organization (
			id, fhir_id, name, email, active,
			subscription_status, stripe_customer_id, stripe_subscription_id,
			stripe_price_id, current_period_end,
			sessions_used, sessions_allowed, last_reset, version_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
		)`,
		org.ID, org.FHIRID, org.Name, org.Email, org.Active,
		org.Billing.Status, org.Billing.CustomerID, org.Billing.SubscriptionID,
		org.Billing.PlanPriceID, org.Billing.PeriodEnd,
		org.Billing.SessionsUsed, org.Billing.SessionsAllowed, org.Billing.LastReset,
		org.VersionID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return scanOrg(r.pool.QueryRow(ctx, `SELECT `+orgCols+` FROM organization WHERE id = $1`, id))
}

func (r *repoPG) GetByFHIRID(ctx context.Context, fhirID string) (*Organization, error) {
	return scanOrg(r.pool.QueryRow(ctx, `SELECT `+orgCols+` FROM organization WHERE fhir_id = $1`, fhirID))
}

func (r *repoPG) UpdateBilling(ctx context.Context, id uuid.UUID, expectedVersion int, state BillingState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE organization SET
			subscription_status=$3, stripe_customer_id=$4, stripe_subscription_id=$5,
			stripe_price_id=$6, current_period_end=$7,
			sessions_used=$8, sessions_allowed=$9, last_reset=$10,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2`,
		id, expectedVersion,
		state.Status, state.CustomerID, state.SubscriptionID,
		state.PlanPriceID, state.PeriodEnd,
		state.SessionsUsed, state.SessionsAllowed, state.LastReset,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or the version moved. Distinguish so the
		// caller can decide between retry and 404.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM organization WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(
		&o.ID, &o.FHIRID, &o.Name, &o.Email, &o.Active,
		&o.Billing.Status, &o.Billing.CustomerID, &o.Billing.SubscriptionID,
		&o.Billing.PlanPriceID, &o.Billing.PeriodEnd,
		&o.Billing.SessionsUsed, &o.Billing.SessionsAllowed, &o.Billing.LastReset,
		&o.VersionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

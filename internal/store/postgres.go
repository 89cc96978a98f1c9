package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"hookrelay/types"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements Store on top of database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Connect opens and pings a Postgres connection.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub *types.Subscription) error {
	query := `INSERT INTO subscriptions (id, target_url, secret, event_types, active, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.ExecContext(ctx, query,
		sub.ID, sub.TargetURL, sub.Secret, pq.Array(sub.EventTypes), sub.Active, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	query := `SELECT id, target_url, secret, event_types, active, created_at, updated_at
			  FROM subscriptions WHERE id = $1`

	var sub types.Subscription
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.TargetURL, &sub.Secret, pq.Array(&sub.EventTypes),
		&sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, limit, offset int) ([]types.Subscription, error) {
	query := `SELECT id, target_url, secret, event_types, active, created_at, updated_at
			  FROM subscriptions ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := p.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []types.Subscription
	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(&sub.ID, &sub.TargetURL, &sub.Secret, pq.Array(&sub.EventTypes),
			&sub.Active, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (p *Postgres) UpdateSubscription(ctx context.Context, sub *types.Subscription) error {
	query := `UPDATE subscriptions
			  SET target_url = $2, secret = $3, event_types = $4, active = $5, updated_at = $6
			  WHERE id = $1`

	result, err := p.db.ExecContext(ctx, query,
		sub.ID, sub.TargetURL, sub.Secret, pq.Array(sub.EventTypes), sub.Active, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Attempt records reference the subscription; drop them first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE subscription_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete attempt records: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (p *Postgres) AppendAttempt(ctx context.Context, attempt *types.DeliveryAttempt) error {
	query := `INSERT INTO delivery_attempts
			  (id, webhook_id, subscription_id, target_url, payload, attempt_number, status, status_code, error_message, timestamp)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := p.db.ExecContext(ctx, query,
		attempt.ID, attempt.WebhookID, attempt.SubscriptionID, attempt.TargetURL,
		[]byte(attempt.Payload), attempt.AttemptNumber, attempt.Status,
		attempt.StatusCode, attempt.ErrorMessage, attempt.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append delivery attempt: %w", err)
	}
	return nil
}

func (p *Postgres) LatestAttempt(ctx context.Context, webhookID uuid.UUID) (*types.DeliveryAttempt, error) {
	query := `SELECT id, webhook_id, subscription_id, target_url, payload, attempt_number, status, status_code, error_message, timestamp
			  FROM delivery_attempts
			  WHERE webhook_id = $1
			  ORDER BY timestamp DESC, attempt_number DESC
			  LIMIT 1`

	attempt, err := scanAttempt(p.db.QueryRowContext(ctx, query, webhookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return attempt, nil
}

func (p *Postgres) RecentAttempts(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]types.DeliveryAttempt, error) {
	query := `SELECT id, webhook_id, subscription_id, target_url, payload, attempt_number, status, status_code, error_message, timestamp
			  FROM delivery_attempts
			  WHERE subscription_id = $1
			  ORDER BY timestamp DESC
			  LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []types.DeliveryAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

func (p *Postgres) PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM delivery_attempts WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivery attempts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*types.DeliveryAttempt, error) {
	var attempt types.DeliveryAttempt
	var payload []byte
	err := row.Scan(&attempt.ID, &attempt.WebhookID, &attempt.SubscriptionID,
		&attempt.TargetURL, &payload, &attempt.AttemptNumber, &attempt.Status,
		&attempt.StatusCode, &attempt.ErrorMessage, &attempt.Timestamp)
	if err != nil {
		return nil, err
	}
	attempt.Payload = payload
	return &attempt, nil
}

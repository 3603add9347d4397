package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldops/webhookd/internal/domain"
)

const attemptColumns = `id, subscription_id, event_type, resource_id, payload,
	attempt_number, status, http_status, response_time_ms, error_message,
	started_at, finished_at`

// CreateAttempt appends a delivery attempt row. Attempt rows are append-only:
// retries get new rows, history is never rewritten.
func (s *PostgresStore) CreateAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (id, subscription_id, event_type, resource_id,
			payload, attempt_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.SubscriptionID, a.EventType, nullIfEmpty(a.ResourceID),
		[]byte(a.Payload), a.AttemptNumber, string(a.Status), a.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// FinalizeAttempt records the per-attempt outcome on the pending row.
func (s *PostgresStore) FinalizeAttempt(ctx context.Context, id string, status domain.AttemptStatus, httpStatus *int, responseTimeMs int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE delivery_attempts
		SET status = $2, http_status = $3, response_time_ms = $4,
		    error_message = $5, finished_at = NOW()
		WHERE id = $1
	`, id, string(status), httpStatus, responseTimeMs, nullIfEmpty(errMsg))
	if err != nil {
		return fmt.Errorf("finalizing delivery attempt: %w", err)
	}
	return nil
}

// GetAttempt returns a single attempt or nil when not found.
func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = $1`, id)

	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns a subscription's delivery history, newest first, with
// page/size pagination, plus the total row count.
func (s *PostgresStore) ListAttempts(ctx context.Context, subscriptionID string, page, size int) ([]domain.DeliveryAttempt, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM delivery_attempts WHERE subscription_id = $1",
		subscriptionID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting delivery attempts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM delivery_attempts
		WHERE subscription_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, subscriptionID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, total, rows.Err()
}

func scanAttempt(row rowScanner) (*domain.DeliveryAttempt, error) {
	var (
		a          domain.DeliveryAttempt
		resourceID *string
		payload    []byte
		status     string
	)
	err := row.Scan(
		&a.ID, &a.SubscriptionID, &a.EventType, &resourceID, &payload,
		&a.AttemptNumber, &status, &a.HTTPStatus, &a.ResponseTimeMs, &a.ErrorMessage,
		&a.StartedAt, &a.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if resourceID != nil {
		a.ResourceID = *resourceID
	}
	a.Payload = payload
	a.Status = domain.AttemptStatus(status)
	return &a, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fieldops/webhookd/internal/domain"
)

const subscriptionColumns = `id, user_id, name, description, url, event_type, secret,
	custom_headers, conditions, max_attempts, retry_delay_seconds, timeout_seconds,
	status, total_executions, success_count, failure_count, last_executed_at,
	created_at, updated_at`

// CreateSubscription inserts a new subscription. ID, status and timestamps
// are assigned here; the caller is expected to have validated the request.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = domain.SubscriptionActive
	}
	sub.CreatedAt = time.Now().UTC()

	headers, conditions, err := encodeJSONFields(sub.CustomHeaders, sub.Conditions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, name, description, url, event_type, secret,
			custom_headers, conditions, max_attempts, retry_delay_seconds, timeout_seconds,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sub.ID, sub.UserID, sub.Name, sub.Description, sub.URL, sub.EventType,
		nullIfEmpty(sub.Secret), headers, conditions,
		sub.MaxAttempts, sub.RetryDelaySeconds, sub.TimeoutSeconds,
		string(sub.Status), sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription or nil when it does not exist.
func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions newest first, optionally filtered
// by lifecycle status, with page/size pagination. Also returns the total
// count for the filter.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, status string, page, size int) ([]domain.Subscription, int, error) {
	where := ""
	args := []any{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting subscriptions: %w", err)
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, total, rows.Err()
}

// ListActiveSubscriptions returns dispatch candidates: active subscriptions
// whose filter is the event type or the wildcard. Condition evaluation
// happens in the engine; this query only narrows by type and status.
func (s *PostgresStore) ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND (event_type = $2 OR event_type = $3)
	`, string(domain.SubscriptionActive), string(eventType), domain.EventTypeWildcard)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// UpdateSubscription applies a partial update and returns the new row, or
// nil when the subscription does not exist.
func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	set := []string{}
	args := []any{}
	add := func(col string, val any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, val)
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.URL != nil {
		add("url", *req.URL)
	}
	if req.EventType != nil {
		add("event_type", *req.EventType)
	}
	if req.Secret != nil {
		add("secret", nullIfEmpty(*req.Secret))
	}
	if req.CustomHeaders != nil {
		data, err := json.Marshal(*req.CustomHeaders)
		if err != nil {
			return nil, fmt.Errorf("encoding custom headers: %w", err)
		}
		add("custom_headers", data)
	}
	if req.Conditions != nil {
		data, err := json.Marshal(*req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("encoding conditions: %w", err)
		}
		add("conditions", data)
	}
	if req.MaxAttempts != nil {
		add("max_attempts", *req.MaxAttempts)
	}
	if req.RetryDelaySeconds != nil {
		add("retry_delay_seconds", *req.RetryDelaySeconds)
	}
	if req.TimeoutSeconds != nil {
		add("timeout_seconds", *req.TimeoutSeconds)
	}
	if req.Status != nil {
		add("status", *req.Status)
	}

	if len(set) == 0 {
		return s.GetSubscription(ctx, id)
	}
	set = append(set, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d RETURNING `+subscriptionColumns,
		strings.Join(set, ", "), len(args)+1)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription and, via the foreign key, its
// attempt history. Returns false when nothing was deleted.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM subscriptions WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementRollups records a terminal pipeline outcome on the subscription
// row. The increments run inside the UPDATE so concurrent pipelines for the
// same subscription never lose updates.
func (s *PostgresStore) IncrementRollups(ctx context.Context, subscriptionID string, status domain.AttemptStatus) error {
	var query string
	switch status {
	case domain.AttemptDelivered:
		query = `UPDATE subscriptions
			SET total_executions = total_executions + 1,
			    success_count = success_count + 1,
			    last_executed_at = NOW()
			WHERE id = $1`
	case domain.AttemptFailed:
		query = `UPDATE subscriptions
			SET total_executions = total_executions + 1,
			    failure_count = failure_count + 1,
			    last_executed_at = NOW()
			WHERE id = $1`
	default:
		// Disabled mid-flight: counts as an execution, neither success nor failure.
		query = `UPDATE subscriptions
			SET total_executions = total_executions + 1,
			    last_executed_at = NOW()
			WHERE id = $1`
	}

	if _, err := s.pool.Exec(ctx, query, subscriptionID); err != nil {
		return fmt.Errorf("updating subscription rollups: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub         domain.Subscription
		description *string
		secret      *string
		headers     []byte
		conditions  []byte
		status      string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Name, &description, &sub.URL, &sub.EventType, &secret,
		&headers, &conditions, &sub.MaxAttempts, &sub.RetryDelaySeconds, &sub.TimeoutSeconds,
		&status, &sub.TotalExecutions, &sub.SuccessCount, &sub.FailureCount, &sub.LastExecutedAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description != nil {
		sub.Description = *description
	}
	if secret != nil {
		sub.Secret = *secret
	}
	sub.Status = domain.SubscriptionStatus(status)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &sub.CustomHeaders); err != nil {
			return nil, fmt.Errorf("decoding custom headers: %w", err)
		}
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &sub.Conditions); err != nil {
			return nil, fmt.Errorf("decoding conditions: %w", err)
		}
	}
	return &sub, nil
}

func encodeJSONFields(headers map[string]string, conditions []domain.Condition) ([]byte, []byte, error) {
	var headersJSON, conditionsJSON []byte
	var err error
	if headers != nil {
		if headersJSON, err = json.Marshal(headers); err != nil {
			return nil, nil, fmt.Errorf("encoding custom headers: %w", err)
		}
	}
	if conditions != nil {
		if conditionsJSON, err = json.Marshal(conditions); err != nil {
			return nil, nil, fmt.Errorf("encoding conditions: %w", err)
		}
	}
	return headersJSON, conditionsJSON, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

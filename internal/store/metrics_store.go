package store

import (
	"context"
	"fmt"
)

// DispatchMetrics holds aggregated delivery statistics for operator tooling.
type DispatchMetrics struct {
	TotalAttempts       int     `json:"total_attempts"`
	DeliveredCount      int     `json:"delivered_count"`
	FailedCount         int     `json:"failed_count"`
	DisabledCount       int     `json:"disabled_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
}

// GetDispatchMetrics aggregates attempt outcomes across all subscriptions.
func (s *PostgresStore) GetDispatchMetrics(ctx context.Context) (*DispatchMetrics, error) {
	var m DispatchMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'delivered') AS delivered,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'disabled') AS disabled,
			COALESCE(AVG(response_time_ms) FILTER (WHERE response_time_ms > 0), 0) AS avg_response_ms
		FROM delivery_attempts
	`).Scan(&m.TotalAttempts, &m.DeliveredCount, &m.FailedCount, &m.DisabledCount, &m.AvgResponseMs)
	if err != nil {
		return nil, fmt.Errorf("querying attempt metrics: %w", err)
	}

	if m.TotalAttempts > 0 {
		m.SuccessRate = float64(m.DeliveredCount) / float64(m.TotalAttempts) * 100
	}

	err = s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM subscriptions WHERE status = 'active'",
	).Scan(&m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	return &m, nil
}

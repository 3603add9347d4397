package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldops/webhookd/internal/domain"
)

// Matches decides whether a subscription should receive an event: the
// event-type filter must equal the event's type (or be the wildcard), and
// every declared condition must hold against the payload. Pure function,
// no side effects, safe to call concurrently.
func Matches(sub *domain.Subscription, event *domain.Event) bool {
	if sub.Status != domain.SubscriptionActive {
		return false
	}
	if sub.EventType != domain.EventTypeWildcard && sub.EventType != string(event.Type) {
		return false
	}
	for _, c := range sub.Conditions {
		if !Evaluate(c, event.Payload) {
			return false
		}
	}
	return true
}

// Evaluate applies a single condition to an event payload. A condition whose
// field is absent evaluates false (fail-closed), as does a numeric comparison
// with a non-numeric operand. Unknown operators also evaluate false, but
// subscriptions with unknown operators are rejected at save time.
func Evaluate(c domain.Condition, payload map[string]any) bool {
	got, ok := payload[c.Field]
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpEquals:
		return valuesEqual(got, c.Value)
	case domain.OpNotEquals:
		return !valuesEqual(got, c.Value)
	case domain.OpContains:
		return strings.Contains(stringify(got), stringify(c.Value))
	case domain.OpNotContains:
		return !strings.Contains(stringify(got), stringify(c.Value))
	case domain.OpGreaterThan:
		a, okA := toFloat(got)
		b, okB := toFloat(c.Value)
		return okA && okB && a > b
	case domain.OpLessThan:
		a, okA := toFloat(got)
		b, okB := toFloat(c.Value)
		return okA && okB && a < b
	}
	return false
}

// valuesEqual compares two JSON-decoded values. Numbers are compared
// numerically so that 5 and 5.0 are equal regardless of decode type.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toFloat coerces JSON-decoded values to float64. Numeric strings count as
// numbers; anything else makes the comparison fail closed.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

package engine

import (
	"time"

	"github.com/fieldops/webhookd/internal/domain"
)

// OutcomeClass classifies the result of one delivery attempt. The class
// decides retryability: transport and receiver errors consume retry budget,
// configuration errors are terminal immediately.
type OutcomeClass string

const (
	// OutcomeSuccess: the endpoint answered with a 2xx status.
	OutcomeSuccess OutcomeClass = "success"
	// OutcomeReceiverError: a non-2xx HTTP response. Retryable.
	OutcomeReceiverError OutcomeClass = "receiver_error"
	// OutcomeTransportError: DNS, connect, TLS failure or timeout. Retryable.
	OutcomeTransportError OutcomeClass = "transport_error"
	// OutcomeConfigError: the request could not be built at all (invalid URL).
	// Retrying a structurally broken target wastes budget, so it is terminal.
	OutcomeConfigError OutcomeClass = "config_error"
)

// Outcome is the structured result of a single HTTP attempt. Errors below the
// dispatch boundary travel as data, never as panics or errors returned to the
// event producer.
type Outcome struct {
	Class          OutcomeClass
	HTTPStatus     *int
	ResponseTimeMs int
	Err            string
}

// ActionKind is what the scheduler decided to do with a pipeline.
type ActionKind int

const (
	ActionFinalizeSuccess ActionKind = iota
	ActionFinalizeFailure
	ActionRetry
)

// Action is the scheduler's decision for one attempt outcome.
type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// NextAction applies the retry policy: success finalizes the pipeline,
// configuration errors finalize immediately, and retryable failures are
// re-queued with the subscription's fixed delay until the attempt budget is
// spent. Exhausting the budget never disables the subscription itself; that
// is an operator decision.
func NextAction(sub *domain.Subscription, attemptNumber int, out Outcome) Action {
	switch out.Class {
	case OutcomeSuccess:
		return Action{Kind: ActionFinalizeSuccess}
	case OutcomeConfigError:
		return Action{Kind: ActionFinalizeFailure}
	}

	if attemptNumber >= sub.MaxAttempts {
		return Action{Kind: ActionFinalizeFailure}
	}
	return Action{Kind: ActionRetry, Delay: sub.RetryDelay()}
}

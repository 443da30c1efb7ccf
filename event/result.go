package event

import "net/http"

// Outcome classifies what processing an event did.
type Outcome string

const (
	// OutcomeApplied means state changed.
	OutcomeApplied Outcome = "applied"

	// OutcomeDuplicate means the event (or its grant key) was already
	// settled; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeStale means the event arrived out of order and describes an
	// older state than what is stored; it was deliberately skipped.
	OutcomeStale Outcome = "stale"

	// OutcomeIgnored means the event kind or payload is not one this
	// system acts on.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeFailed means processing hit an error; the provider should
	// redeliver.
	OutcomeFailed Outcome = "failed"
)

// Result is the typed outcome of processing one event. Failures carry the
// error; everything else is a success from the provider's point of view.
type Result struct {
	EventID string
	Kind    Kind
	Outcome Outcome
	Detail  string
	Err     error
}

// HTTPStatus maps the outcome to the status the webhook endpoint should
// return. Only Failed asks the provider to redeliver.
func (o Outcome) HTTPStatus() int {
	if o == OutcomeFailed {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// Applied builds an applied result.
func Applied(evtID string, kind Kind, detail string) Result {
	return Result{EventID: evtID, Kind: kind, Outcome: OutcomeApplied, Detail: detail}
}

// Duplicate builds a duplicate result.
func Duplicate(evtID string, kind Kind, detail string) Result {
	return Result{EventID: evtID, Kind: kind, Outcome: OutcomeDuplicate, Detail: detail}
}

// Stale builds a stale result.
func Stale(evtID string, kind Kind, detail string) Result {
	return Result{EventID: evtID, Kind: kind, Outcome: OutcomeStale, Detail: detail}
}

// Ignored builds an ignored result.
func Ignored(evtID string, kind Kind, detail string) Result {
	return Result{EventID: evtID, Kind: kind, Outcome: OutcomeIgnored, Detail: detail}
}

// Failed builds a failed result carrying the processing error.
func Failed(evtID string, kind Kind, err error) Result {
	return Result{EventID: evtID, Kind: kind, Outcome: OutcomeFailed, Err: err}
}

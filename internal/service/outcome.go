package service

// OutcomeKind classifies a settled recognition attempt.
type OutcomeKind string

const (
	// OutcomeSuccess means text was recovered; the attempt is billable.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeNoText means the task completed but no recognizable text was
	// found. A valid negative result, not an error, and not billable.
	OutcomeNoText OutcomeKind = "no_text"
	// OutcomeFailure means submission or polling failed. Not billable.
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the final classification of a recognition attempt, consumed by
// the caller for billing, logging and the client response.
type Outcome struct {
	Kind      OutcomeKind
	Text      string
	Language  string
	Reason    string
	ElapsedMs int64

	// Err carries the underlying failure for status mapping; nil unless
	// Kind is OutcomeFailure.
	Err error
}

// Billable reports whether the attempt consumes a credit.
func (o Outcome) Billable() bool {
	return o.Kind == OutcomeSuccess
}

package docparse

import "strings"

// Status is the normalized state of a vendor parse task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// statusSynonyms maps vendor status strings (lowercased) onto the normalized
// enumeration. The vendor vocabulary is observed rather than documented and
// has drifted across API versions, so new synonyms belong here and nowhere
// else.
var statusSynonyms = map[string]Status{
	"pending":     StatusPending,
	"queued":      StatusPending,
	"waiting":     StatusPending,
	"processing":  StatusPending,
	"running":     StatusPending,
	"in_progress": StatusPending,

	"success":   StatusSuccess,
	"succeeded": StatusSuccess,
	"finished":  StatusSuccess,
	"completed": StatusSuccess,
	"done":      StatusSuccess,

	"failed":  StatusFailed,
	"failure": StatusFailed,
	"error":   StatusFailed,
	"errored": StatusFailed,

	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"aborted":   StatusCancelled,
}

// NormalizeStatus maps a raw vendor status string onto the Status enumeration.
// Unrecognized strings normalize to StatusUnknown, which the poller treats as
// still pending.
func NormalizeStatus(raw string) Status {
	if s, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnknown
}

// IsTerminal reports whether no further status transition can occur.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

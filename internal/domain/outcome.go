package domain

// OutcomeKind tags the classified result of a single fetch attempt
type OutcomeKind int

const (
	OutcomeAlreadyStored OutcomeKind = iota
	OutcomeNoData
	OutcomeRateLimited
	OutcomeTransientError
	OutcomeSuccess
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeAlreadyStored:  "already_stored",
	OutcomeNoData:         "no_data",
	OutcomeRateLimited:    "rate_limited",
	OutcomeTransientError: "transient_error",
	OutcomeSuccess:        "success",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Outcome is a closed tagged union over OutcomeKind.
// Payload is only set for OutcomeSuccess; Err carries the cause for
// OutcomeRateLimited and OutcomeTransientError; Reason explains OutcomeNoData.
type Outcome struct {
	Kind    OutcomeKind
	Payload []byte
	Err     error
	Reason  string
}

// Success wraps a fetched payload
func Success(payload []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// NoData reports that the source authoritatively has nothing for the task
func NoData(reason string) Outcome {
	return Outcome{Kind: OutcomeNoData, Reason: reason}
}

// RateLimited reports a quota or limit signal
func RateLimited(err error) Outcome {
	return Outcome{Kind: OutcomeRateLimited, Err: err}
}

// Transient reports a network, protocol or parse failure
func Transient(err error) Outcome {
	return Outcome{Kind: OutcomeTransientError, Err: err}
}

// AlreadyStored reports that persistence already holds the task's data
func AlreadyStored() Outcome {
	return Outcome{Kind: OutcomeAlreadyStored}
}

// Retryable reports whether the outcome should rotate to the next credential
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeRateLimited || o.Kind == OutcomeTransientError
}

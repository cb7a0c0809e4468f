package domain

import "context"

// Fetcher performs one network call for a task and normalizes the response
// into the Outcome taxonomy. Implementations must not return OutcomeAlreadyStored
// unless they consulted persistence themselves.
type Fetcher interface {
	Fetch(ctx context.Context, task Task, credential Credential) Outcome
}

// TaskStore is the persistence collaborator.
// Exists and Save together guarantee at most one stored record per task identity.
type TaskStore interface {
	Exists(ctx context.Context, task Task) (bool, error)
	Save(ctx context.Context, task Task, payload []byte) error
}

// IdentityRotator changes the apparent network origin of outbound requests.
// Best-effort: callers log failures and carry on.
type IdentityRotator interface {
	RotateIdentity(ctx context.Context) error
}

// Minter obtains a brand-new credential out-of-band
type Minter interface {
	Mint(ctx context.Context) (Credential, error)
}

// KeyStore persists the full credential list after the pool grows
type KeyStore interface {
	SaveCredentials(creds []Credential) error
}

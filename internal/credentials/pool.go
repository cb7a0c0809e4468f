// Package credentials manages the rotating pool of API keys.
package credentials

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
)

// ErrEmptyPool means the pool has no members. Configuration-fatal.
var ErrEmptyPool = errors.New("credential pool is empty")

// Pool is an ordered, append-only set of credentials with a round-robin cursor.
//
// Rotation is not failure-aware: a credential that just failed is revisited
// after a full cycle, since quota resets and endpoint restrictions are often
// transient. Members are never removed.
type Pool struct {
	mu      sync.RWMutex
	creds   []domain.Credential
	cursor  int
	rotator domain.IdentityRotator
	minter  domain.Minter
	store   domain.KeyStore
	log     zerolog.Logger
}

// Option configures a Pool
type Option func(*Pool)

// WithKeyStore persists the pool every time a credential is minted
func WithKeyStore(store domain.KeyStore) Option {
	return func(p *Pool) {
		p.store = store
	}
}

// NewPool creates a pool. Blank and duplicate credentials are dropped;
// nothing left means ErrEmptyPool. rotator and minter may be nil.
func NewPool(creds []domain.Credential, rotator domain.IdentityRotator, minter domain.Minter, log zerolog.Logger, opts ...Option) (*Pool, error) {
	seen := make(map[domain.Credential]bool, len(creds))
	members := make([]domain.Credential, 0, len(creds))
	for _, c := range creds {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		members = append(members, c)
	}
	if len(members) == 0 {
		return nil, ErrEmptyPool
	}

	p := &Pool{
		creds:   members,
		rotator: rotator,
		minter:  minter,
		log:     log.With().Str("component", "credential_pool").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Current returns the credential at the cursor
func (p *Pool) Current() (domain.Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.creds) == 0 {
		return "", ErrEmptyPool
	}
	return p.creds[p.cursor], nil
}

// Rotate advances the cursor modulo the pool size and rotates the network
// identity. Identity rotation failures are logged only.
func (p *Pool) Rotate(ctx context.Context) domain.Credential {
	p.mu.Lock()
	if len(p.creds) == 0 {
		p.mu.Unlock()
		return ""
	}
	p.cursor = (p.cursor + 1) % len(p.creds)
	next := p.creds[p.cursor]
	cursor := p.cursor
	p.mu.Unlock()

	p.log.Debug().
		Int("cursor", cursor).
		Str("credential", next.Mask()).
		Msg("Rotated credential")

	if p.rotator != nil {
		if err := p.rotator.RotateIdentity(ctx); err != nil {
			p.log.Warn().Err(err).Msg("Identity rotation failed, continuing with current egress")
		}
	}

	return next
}

// MintAndSwitch mints a new credential, appends it and points the cursor at it.
// Returns false and leaves the pool unchanged when minting fails. Minting is
// attempted once per call.
func (p *Pool) MintAndSwitch(ctx context.Context) (domain.Credential, bool) {
	if p.minter == nil {
		p.log.Warn().Msg("Credential pool exhausted and no minter configured")
		return "", false
	}

	cred, err := p.minter.Mint(ctx)
	if err != nil || cred == "" {
		p.log.Error().Err(err).Msg("Failed to mint new credential")
		return "", false
	}

	p.mu.Lock()
	p.creds = append(p.creds, cred)
	p.cursor = len(p.creds) - 1
	snapshot := append([]domain.Credential(nil), p.creds...)
	p.mu.Unlock()

	p.log.Info().
		Str("credential", cred.Mask()).
		Int("pool_size", len(snapshot)).
		Msg("Minted new credential")

	if p.store != nil {
		if err := p.store.SaveCredentials(snapshot); err != nil {
			p.log.Error().Err(err).Msg("Failed to persist minted credential")
		}
	}

	return cred, true
}

// Size returns the number of credentials
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds)
}

// Cursor returns the current cursor index
func (p *Pool) Cursor() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Credentials returns a copy of the members in pool order
func (p *Pool) Credentials() []domain.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Credential(nil), p.creds...)
}

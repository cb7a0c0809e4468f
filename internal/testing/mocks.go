package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/harvester/internal/domain"
)

// FetchCall records one call to MockFetcher.Fetch
type FetchCall struct {
	Task       domain.Task
	Credential domain.Credential
}

// MockFetcher is a scripted implementation of domain.Fetcher.
// Outcomes queued for a task are returned in order; once the queue is empty
// the per-credential outcome (if any) and then the default outcome apply.
type MockFetcher struct {
	mu           sync.Mutex
	script       map[string][]domain.Outcome
	byCredential map[domain.Credential]domain.Outcome
	def          domain.Outcome
	calls        []FetchCall
	onFetch      func(domain.Task)
}

// NewMockFetcher creates a fetcher that succeeds with SamplePayload by default
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		script:       make(map[string][]domain.Outcome),
		byCredential: make(map[domain.Credential]domain.Outcome),
		def:          domain.Success(SamplePayload),
	}
}

// Script queues outcomes for a task
func (m *MockFetcher) Script(task domain.Task, outcomes ...domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script[task.String()] = append(m.script[task.String()], outcomes...)
}

// SetDefault sets the outcome returned when nothing else matches
func (m *MockFetcher) SetDefault(o domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.def = o
}

// SetForCredential makes every unscripted fetch with cred return o
func (m *MockFetcher) SetForCredential(cred domain.Credential, o domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCredential[cred] = o
}

// OnFetch registers a hook run before each fetch returns
func (m *MockFetcher) OnFetch(fn func(domain.Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFetch = fn
}

// Fetch implements domain.Fetcher
func (m *MockFetcher) Fetch(ctx context.Context, task domain.Task, credential domain.Credential) domain.Outcome {
	m.mu.Lock()
	m.calls = append(m.calls, FetchCall{Task: task, Credential: credential})

	var out domain.Outcome
	key := task.String()
	if queue := m.script[key]; len(queue) > 0 {
		out = queue[0]
		m.script[key] = queue[1:]
	} else if o, ok := m.byCredential[credential]; ok {
		out = o
	} else {
		out = m.def
	}
	hook := m.onFetch
	m.mu.Unlock()

	if hook != nil {
		hook(task)
	}
	return out
}

// Calls returns all recorded calls
func (m *MockFetcher) Calls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FetchCall(nil), m.calls...)
}

// CallsFor returns the credentials used for a task, in order
func (m *MockFetcher) CallsFor(task domain.Task) []domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	var creds []domain.Credential
	for _, c := range m.calls {
		if c.Task.String() == task.String() {
			creds = append(creds, c.Credential)
		}
	}
	return creds
}

// MockStore is an in-memory implementation of domain.TaskStore
type MockStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	writes     map[string]int
	saveErrors int
	existsErr  error
}

// NewMockStore creates an empty store
func NewMockStore() *MockStore {
	return &MockStore{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

// Put stores a payload directly (simulates another process filling a task)
func (m *MockStore) Put(task domain.Task, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[task.String()] = payload
}

// FailNextSaves makes the next n Save calls fail
func (m *MockStore) FailNextSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErrors = n
}

// SetExistsError makes every Exists call fail
func (m *MockStore) SetExistsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsErr = err
}

// Exists implements domain.TaskStore
func (m *MockStore) Exists(ctx context.Context, task domain.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.data[task.String()]
	return ok, nil
}

// Save implements domain.TaskStore. Only the first write per task has effect.
func (m *MockStore) Save(ctx context.Context, task domain.Task, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErrors > 0 {
		m.saveErrors--
		return errors.New("mock store: save failed")
	}
	key := task.String()
	if _, ok := m.data[key]; ok {
		return nil
	}
	m.data[key] = payload
	m.writes[key]++
	return nil
}

// Has reports whether a task is stored
func (m *MockStore) Has(task domain.Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[task.String()]
	return ok
}

// Writes returns how many effective writes happened for a task
func (m *MockStore) Writes(task domain.Task) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[task.String()]
}

// Len returns the number of stored tasks
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// MockRotator counts identity rotations
type MockRotator struct {
	mu    sync.Mutex
	calls int
	err   error
}

// SetError makes every rotation fail
func (m *MockRotator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// RotateIdentity implements domain.IdentityRotator
func (m *MockRotator) RotateIdentity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

// Calls returns the number of rotations
func (m *MockRotator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMinter hands out queued credentials, then fails
type MockMinter struct {
	mu    sync.Mutex
	queue []domain.Credential
	calls int
}

// NewMockMinter creates a minter that returns creds in order
func NewMockMinter(creds ...domain.Credential) *MockMinter {
	return &MockMinter{queue: creds}
}

// Mint implements domain.Minter
func (m *MockMinter) Mint(ctx context.Context) (domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.queue) == 0 {
		return "", errors.New("mock minter: no credentials left")
	}
	c := m.queue[0]
	m.queue = m.queue[1:]
	return c, nil
}

// Calls returns the number of mint attempts
func (m *MockMinter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockKeyStore records persisted credential lists
type MockKeyStore struct {
	mu    sync.Mutex
	saved [][]domain.Credential
	err   error
}

// SetError makes every save fail
func (m *MockKeyStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SaveCredentials implements domain.KeyStore
func (m *MockKeyStore) SaveCredentials(creds []domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, append([]domain.Credential(nil), creds...))
	return nil
}

// Saved returns every persisted list
func (m *MockKeyStore) Saved() [][]domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

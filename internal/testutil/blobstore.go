package testutil

import (
	"context"
	"strings"
	"sync"

	"kioku/internal/kioku"
	"kioku/internal/remote"
)

// Blob store operations, as recorded by ScriptedStore.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpList   = "list"
	OpDelete = "delete"
)

// Call is one recorded blob store call.
type Call struct {
	Op   string
	Path string
}

type fault struct {
	op     string
	suffix string
	err    error
	times  int // 0 = until cleared
}

// ScriptedStore wraps a blob store, records every call and fails the calls
// tests ask it to fail. Safe for concurrent use.
type ScriptedStore struct {
	inner kioku.BlobStore

	mu     sync.Mutex
	calls  []Call
	faults []*fault
	gate   chan struct{}
	inGate chan struct{}
}

// Compile-time check that ScriptedStore implements kioku.BlobStore
var _ kioku.BlobStore = (*ScriptedStore)(nil)

// NewScriptedStore wraps inner; a nil inner gets a fresh memory store.
func NewScriptedStore(inner kioku.BlobStore) *ScriptedStore {
	if inner == nil {
		inner = remote.NewMemoryStore()
	}
	return &ScriptedStore{inner: inner}
}

// Inner returns the wrapped store.
func (s *ScriptedStore) Inner() kioku.BlobStore { return s.inner }

// Fail makes calls of op on paths ending in suffix return err until
// ClearFaults. An empty suffix matches every path.
func (s *ScriptedStore) Fail(op, suffix string, err error) {
	s.mu.Lock()
	s.faults = append(s.faults, &fault{op: op, suffix: suffix, err: err})
	s.mu.Unlock()
}

// FailOnce is like Fail but only for the next matching call.
func (s *ScriptedStore) FailOnce(op, suffix string, err error) {
	s.mu.Lock()
	s.faults = append(s.faults, &fault{op: op, suffix: suffix, err: err, times: 1})
	s.mu.Unlock()
}

// ClearFaults removes every scripted failure.
func (s *ScriptedStore) ClearFaults() {
	s.mu.Lock()
	s.faults = nil
	s.mu.Unlock()
}

// Hold makes every following call block until Release. The returned
// channel receives once per call that reaches the hold.
func (s *ScriptedStore) Hold() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.inGate = make(chan struct{}, 64)
	return s.inGate
}

// Release unblocks held calls.
func (s *ScriptedStore) Release() {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Calls returns the recorded calls in order.
func (s *ScriptedStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many calls of op hit a path ending in suffix.
func (s *ScriptedStore) Count(op, suffix string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op && strings.HasSuffix(c.Path, suffix) {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls.
func (s *ScriptedStore) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

func (s *ScriptedStore) before(ctx context.Context, op, path string) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Path: path})
	gate, inGate := s.gate, s.inGate
	var err error
	for i, f := range s.faults {
		if f.op != op || !strings.HasSuffix(path, f.suffix) {
			continue
		}
		err = f.err
		if f.times == 1 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		break
	}
	s.mu.Unlock()

	if gate != nil {
		inGate <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *ScriptedStore) Put(ctx context.Context, path string, data []byte) error {
	if err := s.before(ctx, OpPut, path); err != nil {
		return err
	}
	return s.inner.Put(ctx, path, data)
}

func (s *ScriptedStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := s.before(ctx, OpGet, path); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, path)
}

func (s *ScriptedStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.before(ctx, OpList, prefix); err != nil {
		return nil, err
	}
	return s.inner.List(ctx, prefix)
}

func (s *ScriptedStore) Delete(ctx context.Context, path string) error {
	if err := s.before(ctx, OpDelete, path); err != nil {
		return err
	}
	return s.inner.Delete(ctx, path)
}

func (s *ScriptedStore) ValidateSetup(ctx context.Context) error {
	return s.inner.ValidateSetup(ctx)
}

package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

var errBackendDown = errors.New("personnel backend down")

// Compile-time interface verification.
var _ Provider = (*stubProvider)(nil)

// stubProvider is a scriptable backend. When started and gate are set,
// each Personnel call announces itself on started and then blocks until
// gate closes, so tests can hold a refresh in flight.
type stubProvider struct {
	mu      sync.Mutex
	rangers []ims.Ranger
	err     error
	calls   int

	started chan struct{}
	gate    chan struct{}
}

func (s *stubProvider) Personnel(_ context.Context) ([]ims.Ranger, error) {
	s.mu.Lock()
	s.calls++
	rangers, err := s.rangers, s.err
	started, gate := s.started, s.gate
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}

	if gate != nil {
		<-gate
	}

	if err != nil {
		return nil, err
	}

	return rangers, nil
}

func (s *stubProvider) LookupUser(ctx context.Context, searchTerm string) (*ims.Ranger, error) {
	rangers, err := s.Personnel(ctx)
	if err != nil {
		return nil, err
	}

	return lookupIn(rangers, searchTerm)
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func (s *stubProvider) set(rangers []ims.Ranger, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rangers, s.err = rangers, err
}

func rangersNamed(handles ...string) []ims.Ranger {
	rangers := make([]ims.Ranger, 0, len(handles))
	for _, handle := range handles {
		rangers = append(rangers, ims.Ranger{Handle: handle, Enabled: true})
	}

	return rangers
}

func TestCachedServesSnapshotWhileFresh(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{rangers: rangersNamed("Operator", "Tulip")}
	cache := NewCached(backend, &Config{RefreshInterval: time.Hour, MaxStale: 2 * time.Hour})

	rangers, err := cache.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	if len(rangers) != 2 {
		t.Fatalf("Personnel() returned %d rangers, want 2", len(rangers))
	}

	// A fresh snapshot serves without touching the backend again.
	if _, err := cache.Personnel(t.Context()); err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}

	// Callers get a copy, not the cache's own slice.
	rangers[0].Handle = "Mutated"

	again, err := cache.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	if again[0].Handle != "Operator" {
		t.Errorf("cached Handle = %q after mutating a returned slice, want %q", again[0].Handle, "Operator")
	}
}

func TestCachedFirstLoadError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{err: errBackendDown}
	cache := NewCached(backend, &Config{RefreshInterval: time.Hour, MaxStale: 2 * time.Hour})

	// With nothing loaded yet there is no snapshot to fall back on.
	if _, err := cache.Personnel(t.Context()); !errors.Is(err, errBackendDown) {
		t.Fatalf("Personnel() error = %v, want the backend error", err)
	}

	// The cache retries once the backend recovers.
	backend.set(rangersNamed("Operator"), nil)

	rangers, err := cache.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error after recovery: %v", err)
	}

	if len(rangers) != 1 {
		t.Errorf("Personnel() returned %d rangers, want 1", len(rangers))
	}
}

func TestCachedRefreshesPastMaxStale(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{rangers: rangersNamed("Operator")}
	cache := NewCached(backend, &Config{}) // Zero intervals: every read refreshes inline

	if _, err := cache.Personnel(t.Context()); err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	backend.set(rangersNamed("Operator", "Tulip"), nil)

	rangers, err := cache.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	if len(rangers) != 2 {
		t.Errorf("Personnel() returned %d rangers after refresh, want 2", len(rangers))
	}

	if got := backend.callCount(); got != 2 {
		t.Errorf("backend called %d times, want 2", got)
	}
}

func TestCachedDegradedMode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{rangers: rangersNamed("Operator", "Tulip")}
	cache := NewCached(backend, &Config{}) // Zero intervals: every read refreshes inline

	if _, err := cache.Personnel(t.Context()); err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	// Backend goes down; the stale snapshot keeps serving without error.
	backend.set(nil, errBackendDown)

	rangers, err := cache.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error in degraded mode: %v", err)
	}

	if len(rangers) != 2 {
		t.Errorf("Personnel() returned %d rangers in degraded mode, want the 2 cached", len(rangers))
	}
}

func TestCachedCoalescesConcurrentRefreshes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{rangers: rangersNamed("Operator")}
	cache := NewCached(backend, &Config{RefreshInterval: 0, MaxStale: time.Hour})

	if _, err := cache.Personnel(t.Context()); err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	// Arm the gate and change the backend data the refresh will pick up.
	started := make(chan struct{})
	gate := make(chan struct{})

	backend.mu.Lock()
	backend.rangers = rangersNamed("Operator", "Tulip", "Khaki")
	backend.started = started
	backend.gate = gate
	backend.mu.Unlock()

	// Every read past the refresh interval serves the old snapshot at
	// once and leaves refreshing to the background.
	for range 5 {
		rangers, err := cache.Personnel(t.Context())
		if err != nil {
			t.Fatalf("Personnel() unexpected error: %v", err)
		}

		if len(rangers) != 1 || rangers[0].Handle != "Operator" {
			t.Fatalf("Personnel() = %v during refresh, want the old snapshot", rangers)
		}
	}

	// Exactly one refresh reached the backend; the busy flag turned the
	// other four into no-ops.
	<-started

	if got := backend.callCount(); got != 2 {
		t.Errorf("backend called %d times during coalesced refresh, want 2", got)
	}

	// Disarm before releasing so the poll below runs unobstructed; the
	// in-flight refresh holds its own reference to the gate.
	backend.mu.Lock()
	backend.started, backend.gate = nil, nil
	backend.mu.Unlock()

	close(gate)

	deadline := time.After(2 * time.Second)

	for {
		rangers, err := cache.Personnel(t.Context())
		if err != nil {
			t.Fatalf("Personnel() unexpected error: %v", err)
		}

		if len(rangers) == 3 {
			break
		}

		select {
		case <-deadline:
			t.Fatal("refreshed snapshot never became visible")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCachedUnavailableDuringFirstLoad(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	started := make(chan struct{})
	gate := make(chan struct{})
	backend := &stubProvider{
		rangers: rangersNamed("Operator"),
		started: started,
		gate:    gate,
	}
	cache := NewCached(backend, &Config{RefreshInterval: time.Hour, MaxStale: 2 * time.Hour})

	type result struct {
		rangers []ims.Ranger
		err     error
	}

	results := make(chan result, 1)

	go func() {
		rangers, err := cache.Personnel(context.Background())
		results <- result{rangers: rangers, err: err}
	}()

	// The first load is in flight and holds the busy flag; a concurrent
	// caller has no snapshot and no way to get one.
	<-started

	if _, err := cache.Personnel(t.Context()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Personnel() error = %v during first load, want ErrUnavailable", err)
	}

	close(gate)

	loaded := <-results
	if loaded.err != nil {
		t.Fatalf("first load failed: %v", loaded.err)
	}

	if len(loaded.rangers) != 1 {
		t.Errorf("first load returned %d rangers, want 1", len(loaded.rangers))
	}
}

func TestCachedLookupUser(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend := &stubProvider{rangers: []ims.Ranger{
		{Handle: "Operator", Email: []string{"operator@rangers.example.org"}, Enabled: true},
		{Handle: "Tulip", Enabled: true},
	}}
	cache := NewCached(backend, &Config{RefreshInterval: time.Hour, MaxStale: 2 * time.Hour})

	ranger, err := cache.LookupUser(t.Context(), "tULIp")
	if err != nil {
		t.Fatalf("LookupUser() unexpected error: %v", err)
	}

	if ranger.Handle != "Tulip" {
		t.Errorf("LookupUser() = %q, want %q", ranger.Handle, "Tulip")
	}

	ranger, err = cache.LookupUser(t.Context(), "OPERATOR@rangers.example.org")
	if err != nil {
		t.Fatalf("LookupUser() unexpected error: %v", err)
	}

	if ranger.Handle != "Operator" {
		t.Errorf("LookupUser() = %q, want %q", ranger.Handle, "Operator")
	}

	if _, err := cache.LookupUser(t.Context(), "khaki"); !errors.Is(err, ErrNoSuchUser) {
		t.Errorf("LookupUser() error = %v for an unknown term, want ErrNoSuchUser", err)
	}

	// Lookups resolve against the snapshot, not the backend.
	if got := backend.callCount(); got != 1 {
		t.Errorf("backend called %d times for three lookups, want 1", got)
	}
}

package authstate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/identity"
	"github.com/microshell/shell_host/internal/kvstore"
	"github.com/microshell/shell_host/internal/logging"
)

func newTestSync(t *testing.T, bus *events.Bus) *Synchronizer {
	t.Helper()
	s := New(kvstore.NewMemory(), bus, logging.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestSynchronizer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t, events.NewBus(logging.NewNop()))

	if s.IsAuthenticated(ctx) {
		t.Fatal("fresh synchronizer should be unauthenticated")
	}

	info := &identity.UserInfo{
		UserID:   "u-1",
		Username: "alice",
		Email:    "alice@example.com",
		Roles:    []string{"admin"},
	}
	s.MarkAuthenticated(ctx, "tok-123", info)

	if got := s.Token(ctx); got != "tok-123" {
		t.Errorf("Token = %q, want 'tok-123'", got)
	}
	if !s.IsAuthenticated(ctx) {
		t.Error("IsAuthenticated = false after MarkAuthenticated")
	}
	got := s.UserInfo(ctx)
	if got == nil || got.Username != "alice" {
		t.Errorf("UserInfo = %+v, want alice", got)
	}

	s.MarkLoggedOut(ctx)
	if s.Token(ctx) != "" {
		t.Error("Token should be empty after logout")
	}
	if s.IsAuthenticated(ctx) {
		t.Error("IsAuthenticated = true after logout")
	}
	if s.UserInfo(ctx) != nil {
		t.Error("UserInfo should be nil after logout")
	}
}

func TestSynchronizer_StateAbsorbsCorruptUserInfo(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	s := New(store, nil, logging.NewNop())

	if err := store.Set(ctx, TokenKey, []byte("tok")); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, UserInfoKey, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	st := s.State(ctx)
	if st.IsAuthenticated {
		t.Error("corrupt user info should degrade to unauthenticated")
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("store down")
}
func (failingStore) Set(context.Context, string, []byte) error { return errors.New("store down") }
func (failingStore) Delete(context.Context, string) error      { return errors.New("store down") }

func TestSynchronizer_StorageFailuresAreAbsorbed(t *testing.T) {
	ctx := context.Background()
	s := New(failingStore{}, nil, logging.NewNop())

	// None of these may panic or surface an error.
	st := s.State(ctx)
	if st.IsAuthenticated {
		t.Error("failing store should read as unauthenticated")
	}
	s.MarkAuthenticated(ctx, "tok", &identity.UserInfo{UserID: "u"})

	// Storage is down but the in-memory identity still answers.
	if got := s.Token(ctx); got != "tok" {
		t.Errorf("Token fallback = %q, want 'tok'", got)
	}
	s.MarkLoggedOut(ctx)
}

func TestSynchronizer_TwoInstancesConverge(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(logging.NewNop())

	a := New(kvstore.NewMemory(), bus, logging.NewNop())
	defer a.Close()
	b := New(kvstore.NewMemory(), bus, logging.NewNop())
	defer b.Close()

	info := &identity.UserInfo{UserID: "u-9", Username: "bob"}
	a.MarkAuthenticated(ctx, "shared-token", info)

	if got := b.Token(ctx); got != "shared-token" {
		t.Errorf("b.Token = %q, want 'shared-token' (mirrored from a)", got)
	}
	if ui := b.UserInfo(ctx); ui == nil || ui.Username != "bob" {
		t.Errorf("b.UserInfo = %+v, want bob", ui)
	}

	a.MarkLoggedOut(ctx)
	if b.IsAuthenticated(ctx) {
		t.Error("b should be logged out after a logs out")
	}
}

func TestSynchronizer_ApplyRemoteDoesNotRepublish(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(logging.NewNop())

	s := New(kvstore.NewMemory(), bus, logging.NewNop())
	defer s.Close()

	var published atomic.Int32
	bus.Subscribe(events.EventAuthenticationChanged, func(_ context.Context, ev events.Event) error {
		change := ev.(events.AuthenticationChanged)
		if change.Origin != s.Origin() {
			return nil
		}
		published.Add(1)
		return nil
	})

	s.MarkAuthenticated(ctx, "tok", &identity.UserInfo{UserID: "u"})
	if published.Load() != 1 {
		t.Fatalf("outbound events after login = %d, want 1", published.Load())
	}

	// Inbound logout from another origin: applied, never republished.
	s.ApplyRemote(ctx, events.AuthenticationChanged{
		Origin:          "other-instance",
		IsAuthenticated: false,
		Timestamp:       time.Now(),
	})

	if s.IsAuthenticated(ctx) {
		t.Error("inbound logout should clear authentication")
	}
	if published.Load() != 1 {
		t.Errorf("outbound events after inbound apply = %d, want still 1", published.Load())
	}
}

func TestSynchronizer_IgnoresOwnEvents(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemory(), nil, logging.NewNop())

	s.MarkAuthenticated(ctx, "tok", &identity.UserInfo{UserID: "u"})
	s.ApplyRemote(ctx, events.AuthenticationChanged{
		Origin:          s.Origin(),
		IsAuthenticated: false,
	})

	if !s.IsAuthenticated(ctx) {
		t.Error("events from own origin must be ignored")
	}
}

func TestSynchronizer_OnChange(t *testing.T) {
	ctx := context.Background()
	s := newTestSync(t, events.NewBus(logging.NewNop()))

	var states []State
	remove := s.OnChange(func(st State) { states = append(states, st) })

	s.MarkAuthenticated(ctx, "tok", &identity.UserInfo{UserID: "u"})
	s.MarkLoggedOut(ctx)
	remove()
	s.MarkAuthenticated(ctx, "tok2", &identity.UserInfo{UserID: "u"})

	if len(states) != 2 {
		t.Fatalf("observer saw %d changes, want 2", len(states))
	}
	if !states[0].IsAuthenticated || states[1].IsAuthenticated {
		t.Errorf("observer sequence wrong: %+v", states)
	}
}

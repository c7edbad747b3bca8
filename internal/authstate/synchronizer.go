// Package authstate owns the current user identity and keeps it
// synchronized across modules. State is persisted to a key-value store
// and mirrored over the event channel; every synchronizer instance tags
// outbound events with its origin ID so inbound events from other
// origins can be applied without republishing, which is what prevents
// an infinite propagation loop between instances sharing the channel.
package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microshell/shell_host/internal/events"
	"github.com/microshell/shell_host/internal/identity"
	"github.com/microshell/shell_host/internal/kvstore"
	"github.com/microshell/shell_host/internal/logging"
)

const (
	// TokenKey is the persisted key holding the raw bearer token.
	TokenKey = "mf_auth_token"

	// UserInfoKey is the persisted key holding the serialized user info.
	UserInfoKey = "mf_user_info"
)

// State is a snapshot of the authentication state.
type State struct {
	Token           string
	UserInfo        *identity.UserInfo
	IsAuthenticated bool
}

// Observer is notified after every local state change.
type Observer func(State)

type observerEntry struct {
	id int64
	fn Observer
}

// Synchronizer owns the current identity. All storage failures are
// logged and absorbed; callers observe them as the unauthenticated state.
type Synchronizer struct {
	origin string
	store  kvstore.Store
	bus    *events.Bus
	log    *logging.Logger

	mu        sync.RWMutex
	current   State
	observers []observerEntry
	nextObsID int64

	unsubscribe func()
}

// New creates a synchronizer and subscribes it to authentication-change
// events from other origins. Call Close to detach from the bus.
func New(store kvstore.Store, bus *events.Bus, log *logging.Logger) *Synchronizer {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Synchronizer{
		origin: uuid.NewString(),
		store:  store,
		bus:    bus,
		log:    log,
	}
	if bus != nil {
		s.unsubscribe = bus.Subscribe(events.EventAuthenticationChanged, s.onInbound)
	}
	return s
}

// Origin returns this instance's origin ID.
func (s *Synchronizer) Origin() string { return s.origin }

// State reads the persisted token and user info. An absent token, or any
// storage or parse failure, yields the unauthenticated state; failures
// are never surfaced to the caller.
func (s *Synchronizer) State(ctx context.Context) State {
	raw, err := s.store.Get(ctx, TokenKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.log.WithError(err).Warn("read persisted token")
		}
		return State{}
	}
	token := string(raw)
	if token == "" {
		return State{}
	}

	st := State{Token: token, IsAuthenticated: true}
	if data, err := s.store.Get(ctx, UserInfoKey); err == nil {
		var info identity.UserInfo
		if jerr := json.Unmarshal(data, &info); jerr != nil {
			s.log.WithError(jerr).Warn("parse persisted user info")
			return State{}
		}
		st.UserInfo = &info
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		s.log.WithError(err).Warn("read persisted user info")
		return State{}
	}
	return st
}

// MarkAuthenticated persists the token and user info, updates the
// in-memory identity, broadcasts the change over the event channel, and
// notifies local observers.
func (s *Synchronizer) MarkAuthenticated(ctx context.Context, token string, info *identity.UserInfo) {
	s.persist(ctx, token, info)

	st := State{Token: token, UserInfo: info.Clone(), IsAuthenticated: true}
	s.setCurrent(st)

	if s.bus != nil {
		if err := s.bus.PublishAsync(ctx, events.AuthenticationChanged{
			Origin:          s.origin,
			Token:           token,
			UserInfo:        info.Clone(),
			IsAuthenticated: true,
			Timestamp:       time.Now().UTC(),
		}); err != nil {
			s.log.WithError(err).Warn("broadcast authentication change")
		}
	}
	s.notify(st)
}

// MarkLoggedOut removes the persisted entries, resets the in-memory
// identity, broadcasts the change, and notifies local observers.
func (s *Synchronizer) MarkLoggedOut(ctx context.Context) {
	s.clear(ctx)
	st := State{}
	s.setCurrent(st)

	if s.bus != nil {
		if err := s.bus.PublishAsync(ctx, events.AuthenticationChanged{
			Origin:          s.origin,
			IsAuthenticated: false,
			Timestamp:       time.Now().UTC(),
		}); err != nil {
			s.log.WithError(err).Warn("broadcast logout")
		}
	}
	s.notify(st)
}

// Token returns the current bearer token, preferring persisted state and
// falling back to the in-memory identity when storage is unavailable.
func (s *Synchronizer) Token(ctx context.Context) string {
	raw, err := s.store.Get(ctx, TokenKey)
	if err == nil {
		return string(raw)
	}
	if !errors.Is(err, kvstore.ErrNotFound) {
		s.log.WithError(err).Warn("read token; falling back to in-memory state")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.current.Token
	}
	return ""
}

// UserInfo returns the current user info, or nil when unauthenticated.
func (s *Synchronizer) UserInfo(ctx context.Context) *identity.UserInfo {
	return s.State(ctx).UserInfo
}

// IsAuthenticated reports whether a token is currently present.
func (s *Synchronizer) IsAuthenticated(ctx context.Context) bool {
	return s.Token(ctx) != ""
}

// ApplyRemote applies an authentication change produced by another
// origin to local storage and the in-memory identity without
// republishing it. Events from this synchronizer's own origin are
// ignored.
func (s *Synchronizer) ApplyRemote(ctx context.Context, ev events.AuthenticationChanged) {
	if ev.Origin == s.origin {
		return
	}

	var st State
	if ev.IsAuthenticated {
		s.persist(ctx, ev.Token, ev.UserInfo)
		st = State{Token: ev.Token, UserInfo: ev.UserInfo.Clone(), IsAuthenticated: true}
	} else {
		s.clear(ctx)
	}
	s.setCurrent(st)
	s.notify(st)
}

// OnChange registers an observer for local state changes and returns a
// function removing it.
func (s *Synchronizer) OnChange(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Close detaches the synchronizer from the event channel.
func (s *Synchronizer) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Synchronizer) onInbound(ctx context.Context, ev events.Event) error {
	change, ok := ev.(events.AuthenticationChanged)
	if !ok {
		return nil
	}
	s.ApplyRemote(ctx, change)
	return nil
}

func (s *Synchronizer) persist(ctx context.Context, token string, info *identity.UserInfo) {
	if err := s.store.Set(ctx, TokenKey, []byte(token)); err != nil {
		s.log.WithError(err).Warn("persist token")
	}
	if info == nil {
		if err := s.store.Delete(ctx, UserInfoKey); err != nil {
			s.log.WithError(err).Warn("remove stale user info")
		}
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		s.log.WithError(err).Warn("serialize user info")
		return
	}
	if err := s.store.Set(ctx, UserInfoKey, data); err != nil {
		s.log.WithError(err).Warn("persist user info")
	}
}

func (s *Synchronizer) clear(ctx context.Context) {
	if err := s.store.Delete(ctx, TokenKey); err != nil {
		s.log.WithError(err).Warn("delete persisted token")
	}
	if err := s.store.Delete(ctx, UserInfoKey); err != nil {
		s.log.WithError(err).Warn("delete persisted user info")
	}
}

func (s *Synchronizer) setCurrent(st State) {
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
}

func (s *Synchronizer) notify(st State) {
	s.mu.RLock()
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, o := range observers {
		o.fn(st)
	}
}

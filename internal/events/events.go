// Package events provides the typed publish/subscribe channel that
// decouples the shell host's components and its attached modules.
// Subscriptions are keyed by an explicit event kind tag; each envelope
// type carries its own payload fields and is immutable once published.
package events

import (
	"time"

	"github.com/microshell/shell_host/internal/identity"
)

// EventType classifies the kind of a published event.
type EventType string

const (
	// EventModuleLoaded fires after the loader records a module handle.
	EventModuleLoaded EventType = "module.loaded"

	// EventModuleError fires when a load or activation attempt fails,
	// or a remote module probe reports it unreachable.
	EventModuleError EventType = "module.error"

	// EventModuleConnected fires when a module front-end attaches to
	// the host's event channel.
	EventModuleConnected EventType = "module.connected"

	// EventAuthenticationChanged fires on login, logout, and when an
	// authentication change from another origin is mirrored locally.
	EventAuthenticationChanged EventType = "auth.changed"

	// EventCrossModuleData carries application payloads between modules.
	EventCrossModuleData EventType = "module.data"
)

// Event is implemented by every envelope type.
type Event interface {
	Kind() EventType
}

// ModuleLoaded announces a successfully loaded module.
type ModuleLoaded struct {
	ModuleName string    `json:"moduleName"`
	LoadedAt   time.Time `json:"loadedAt"`
}

// Kind implements Event.
func (ModuleLoaded) Kind() EventType { return EventModuleLoaded }

// ModuleError announces a module load or availability failure.
type ModuleError struct {
	ModuleName string    `json:"moduleName"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Kind implements Event.
func (ModuleError) Kind() EventType { return EventModuleError }

// ModuleConnected announces a module front-end attaching to the channel.
type ModuleConnected struct {
	ModuleName  string    `json:"moduleName"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Kind implements Event.
func (ModuleConnected) Kind() EventType { return EventModuleConnected }

// AuthenticationChanged mirrors an identity change across modules.
// Origin identifies the synchronizer instance that produced the change;
// a synchronizer never re-applies (or republishes) its own events.
type AuthenticationChanged struct {
	Origin          string             `json:"origin"`
	Token           string             `json:"token,omitempty"`
	UserInfo        *identity.UserInfo `json:"userInfo,omitempty"`
	IsAuthenticated bool               `json:"isAuthenticated"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Kind implements Event.
func (AuthenticationChanged) Kind() EventType { return EventAuthenticationChanged }

// CrossModuleData carries an application-defined payload between modules.
// TargetModule may be empty for broadcast.
type CrossModuleData struct {
	SourceModule string      `json:"sourceModule"`
	TargetModule string      `json:"targetModule,omitempty"`
	DataType     string      `json:"dataType"`
	Data         interface{} `json:"data,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Kind implements Event.
func (CrossModuleData) Kind() EventType { return EventCrossModuleData }

// Package device defines the device model shared by the effect engine,
// the scheduler and the concrete backends: kinds, capabilities, the
// connection state machine, commands and the backend interface.
package device

import (
	"context"
	"time"
)

// Kind identifies a backend wire protocol.
type Kind string

// Supported device kinds
const (
	KindHue       Kind = "hue"
	KindKasa      Kind = "kasa"
	KindMagicHome Kind = "magichome"
)

// Capability is a bitset of verbs a device supports.
type Capability uint8

// Capability bits
const (
	CapColor Capability = 1 << iota
	CapBrightness
	CapTemperature
	CapEffects
)

// Has reports whether all bits in want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// State is a device's position in the connection state machine.
type State int

// Connection states
const (
	StateUnknown State = iota
	StateDiscovered
	StateConnected
	StateDegraded
	StateDead
)

var stateNames = map[State]string{
	StateUnknown:    "unknown",
	StateDiscovered: "discovered",
	StateConnected:  "connected",
	StateDegraded:   "degraded",
	StateDead:       "dead",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "invalid"
}

// CanTransition reports whether the connection state machine permits
// moving from s to next. Dead is terminal; any live state may be killed.
func (s State) CanTransition(next State) bool {
	if s == StateDead {
		return false
	}
	if next == StateDead {
		return true
	}
	switch s {
	case StateUnknown:
		return next == StateDiscovered
	case StateDiscovered:
		return next == StateConnected
	case StateConnected:
		return next == StateDegraded
	case StateDegraded:
		return next == StateConnected
	}
	return false
}

// Accepting reports whether a device in this state takes commands.
func (s State) Accepting() bool {
	return s == StateConnected || s == StateDegraded
}

// Device describes one physical endpoint. Kind and ID are immutable;
// State transitions follow the machine above and are owned by the
// scheduler once the device is registered there.
type Device struct {
	ID            string
	Kind          Kind
	Address       string
	Model         string
	Capabilities  Capability
	MinBrightness uint8
	MaxBrightness uint8
	State         State
	LastSeen      time.Time
}

// DiscoveredDevice is the result of a network scan, enough to build a
// Device and connect a backend to it.
type DiscoveredDevice struct {
	ID           string
	Kind         Kind
	Address      string
	Model        string
	Capabilities Capability
}

// Backend is the capability interface every wire protocol implements.
// Calls are synchronous; the caller owns cancellation and timeout via
// ctx. Verbs outside the capability bitset return ErrUnsupported.
type Backend interface {
	Kind() Kind
	Capabilities() Capability
	Connect(ctx context.Context) error
	Close() error

	SetColor(ctx context.Context, r, g, b uint8) error
	SetBrightness(ctx context.Context, level uint8) error
	SetEffect(ctx context.Context, name string) error
	Power(ctx context.Context, on bool) error
	SetTransition(ctx context.Context, d time.Duration) error

	// Ping is a cheap liveness probe.
	Ping(ctx context.Context) error
}

// Package ble implements the Watchy BLE peripheral: it advertises the Watchy
// GATT service, answers characteristic and descriptor requests, and follows
// the host radio adapter as it is switched on and off.
package ble

import "fmt"

// AdapterState is the power state of the host radio adapter. It is owned by
// the OS; the peripheral only reacts to it.
type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turning-on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning-off"
	default:
		return fmt.Sprintf("AdapterState(%d)", int(s))
	}
}

// Platform abstracts the host capability and adapter control surface.
type Platform interface {
	// AdapterPresent reports whether the host has a radio adapter at all.
	AdapterPresent() bool
	// SupportsPeripheral reports whether the adapter can advertise and
	// host a GATT server.
	SupportsPeripheral() bool
	// AdapterState returns the current adapter state.
	AdapterState() (AdapterState, error)
	// RequestEnable asks the OS to power the adapter on. The outcome is
	// observed through a StateSource, not through the return value.
	RequestEnable() error
}

// StateSource delivers adapter state events in the order the OS emits them.
type StateSource interface {
	// SubscribeAdapterState sends every state event to ch until the
	// returned cancel func is called.
	SubscribeAdapterState(ch chan<- AdapterState) (cancel func(), err error)
}

// ConnectionState of a remote central.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

func (s ConnectionState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Device identifies a remote central.
type Device struct {
	Address string
}

func (d Device) String() string {
	return d.Address
}

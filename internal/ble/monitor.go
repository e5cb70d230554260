package ble

import (
	"fmt"
	"log/slog"
	"sync"
)

// AdapterStateMonitor forwards adapter state events from a StateSource to a
// single callback. Every event is delivered exactly once, in source order,
// from one goroutine.
type AdapterStateMonitor struct {
	source StateSource

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewAdapterStateMonitor creates an unsubscribed monitor.
func NewAdapterStateMonitor(source StateSource) *AdapterStateMonitor {
	return &AdapterStateMonitor{source: source}
}

// Subscribe starts delivering events to cb. Subscribing an already
// subscribed monitor returns an *InvalidStateError.
func (m *AdapterStateMonitor) Subscribe(cb func(AdapterState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return &InvalidStateError{Op: "subscribe adapter state"}
	}

	ch := make(chan AdapterState, 16)
	cancel, err := m.source.SubscribeAdapterState(ch)
	if err != nil {
		return fmt.Errorf("ble: subscribe adapter state: %w", err)
	}

	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		for {
			select {
			case <-done:
				return
			case state, ok := <-ch:
				if !ok {
					return
				}
				// Unsubscribe may race the receive; drop events after it.
				select {
				case <-done:
					return
				default:
				}
				slog.Debug("[BLE] adapter state event", "state", state)
				cb(state)
			}
		}
	}()
	return nil
}

// Unsubscribe stops delivery. It is a no-op on an unsubscribed monitor and
// safe to call from inside the callback.
func (m *AdapterStateMonitor) Unsubscribe() {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return
	}
	close(m.done)
	m.done = nil
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribed reports whether a callback is registered.
func (m *AdapterStateMonitor) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Coordinator is the only component that starts and stops the advertising
// and GATT controllers. It follows adapter state edges: on ON it opens the
// server and then advertises, on OFF it stops advertising and drops the
// server handle the OS has invalidated.
type Coordinator struct {
	platform Platform
	monitor  *AdapterStateMonitor
	adv      *AdvertisingController
	gatt     *GattServerController
	profile  Profile

	events chan AdapterState
	stop   chan struct{}
	done   chan struct{}

	// Owned by the event loop.
	up     bool
	server *ServerHandle

	mu       sync.Mutex
	started  bool
	running  bool
	stopOnce sync.Once
	upFlag   bool
}

// NewCoordinator wires the peripheral components together.
func NewCoordinator(platform Platform, source StateSource, adv *AdvertisingController, gatt *GattServerController, profile Profile) *Coordinator {
	return &Coordinator{
		platform: platform,
		monitor:  NewAdapterStateMonitor(source),
		adv:      adv,
		gatt:     gatt,
		profile:  profile,
		events:   make(chan AdapterState, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// CheckCapability verifies the host can run a BLE peripheral. Hardware
// capability does not change for the process lifetime, so a failure is
// final.
func CheckCapability(p Platform) error {
	if p == nil || !p.AdapterPresent() {
		slog.Warn("[BLE] Bluetooth is not supported")
		return &CapabilityError{Reason: "no bluetooth adapter"}
	}
	if !p.SupportsPeripheral() {
		slog.Warn("[BLE] Bluetooth LE peripheral mode is not supported")
		return &CapabilityError{Reason: "adapter cannot advertise or host a GATT server"}
	}
	return nil
}

// Start checks capability, subscribes to adapter state events and handles
// the initial state. A *CapabilityError is fatal for the peripheral; every
// other failure after it only degrades service.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return &InvalidStateError{Op: "start coordinator"}
	}
	c.started = true
	c.mu.Unlock()

	if err := CheckCapability(c.platform); err != nil {
		return err
	}

	if err := c.monitor.Subscribe(c.enqueue); err != nil {
		return fmt.Errorf("ble: start coordinator: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	go c.loop(ctx)

	// The initial state is read by the loop so it is ordered with the
	// events the monitor has already queued.
	c.enqueue(adapterSnapshot)
	return nil
}

// enqueue hands an adapter event to the event loop.
func (c *Coordinator) enqueue(state AdapterState) {
	select {
	case c.events <- state:
	case <-c.stop:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.stopOnce.Do(func() { close(c.stop) })
			c.teardown()
			return
		case <-c.stop:
			c.teardown()
			return
		case state := <-c.events:
			c.handle(state)
		}
	}
}

// adapterSnapshot asks the loop to read the current adapter state.
const adapterSnapshot AdapterState = -1

func (c *Coordinator) handle(state AdapterState) {
	switch state {
	case adapterSnapshot:
		c.handleInitial()
	case AdapterOn:
		if c.up {
			return
		}
		c.bringUp()
	case AdapterOff:
		if !c.up {
			return
		}
		c.bringDown()
	default:
		slog.Debug("[BLE] ignoring transitional adapter state", "state", state)
	}
}

// handleInitial brings services up if the adapter is already on, or asks
// the OS to enable it and waits for the ON event.
func (c *Coordinator) handleInitial() {
	state, err := c.platform.AdapterState()
	if err != nil {
		slog.Warn("[BLE] reading adapter state failed, assuming off", "error", err)
		state = AdapterOff
	}
	if state == AdapterOn {
		slog.Debug("[BLE] Bluetooth enabled, starting services")
		c.handle(AdapterOn)
		return
	}
	if c.up {
		return
	}

	slog.Info("[BLE] Bluetooth is currently disabled, enabling", "state", state)
	if err := c.platform.RequestEnable(); err != nil {
		slog.Warn("[BLE] enable request failed", "error", err)
	}
}

// bringUp opens the server before advertising so that a central that
// connects right away finds it ready.
func (c *Coordinator) bringUp() {
	handle, err := c.gatt.Open(c.profile)
	if err != nil {
		slog.Warn("[BLE] unable to create GATT server, advertising only", "error", err)
	}
	c.server = handle

	if err := c.adv.Start(c.profile); err != nil {
		slog.Warn("[BLE] advertising start failed", "error", err)
	}
	c.setUp(true)
}

func (c *Coordinator) bringDown() {
	if err := c.adv.Stop(); err != nil {
		slog.Warn("[BLE] stopping advertising on adapter off", "error", err)
	}
	c.gatt.Invalidate()
	c.server = nil
	c.setUp(false)
}

func (c *Coordinator) teardown() {
	c.monitor.Unsubscribe()
	if err := c.adv.Stop(); err != nil {
		slog.Warn("[BLE] stopping advertising on shutdown", "error", err)
	}
	if c.server != nil {
		c.gatt.Close(c.server)
		c.server = nil
	}
	c.setUp(false)
	slog.Info("[BLE] peripheral stopped")
}

func (c *Coordinator) setUp(v bool) {
	c.up = v
	c.mu.Lock()
	c.upFlag = v
	c.mu.Unlock()
}

// Up reports whether the services are currently brought up.
func (c *Coordinator) Up() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upFlag
}

// Stop tears the peripheral down: advertising first, then the GATT server.
// It waits for the event loop to exit and is safe to call more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if running {
		<-c.done
	}
}

// IsCapabilityError reports whether err is the fatal capability failure.
func IsCapabilityError(err error) bool {
	return errors.Is(err, ErrCapability)
}

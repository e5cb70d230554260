package bluez

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/watchy-server/internal/ble"
)

// SubscribeAdapterState forwards adapter power changes to ch until the
// returned cancel func is called. Removing the adapter is reported as OFF.
func (c *Client) SubscribeAdapterState(ch chan<- ble.AdapterState) (func(), error) {
	rules := []string{
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'", busName, ifaceProperties, c.adapterPath),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesRemoved'", busName, ifaceObjectManager),
	}
	return c.watch(rules, func(sig *dbus.Signal, stop <-chan struct{}) {
		state, ok := adapterStateFromSignal(sig, c.adapterPath)
		if !ok {
			return
		}
		select {
		case ch <- state:
		case <-stop:
		}
	})
}

// SubscribeConnections calls fn whenever a device on the adapter connects
// or disconnects.
func (c *Client) SubscribeConnections(fn func(ble.Device, ble.ConnectionState)) (func(), error) {
	rule := fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',arg0='%s',path_namespace='%s'",
		busName, ifaceProperties, ifaceDevice, c.adapterPath)
	return c.watch([]string{rule}, func(sig *dbus.Signal, _ <-chan struct{}) {
		if dev, state, ok := connectionFromSignal(sig, c.adapterPath); ok {
			fn(dev, state)
		}
	})
}

var _ ble.StateSource = (*Client)(nil)

// watch installs match rules and runs handle for every signal on one
// goroutine until the cancel func is called or the connection closes.
func (c *Client) watch(rules []string, handle func(sig *dbus.Signal, stop <-chan struct{})) (func(), error) {
	var removers []func()
	for _, rule := range rules {
		remove, err := c.addMatch(rule)
		if err != nil {
			for _, r := range removers {
				r()
			}
			return nil, err
		}
		removers = append(removers, remove)
	}

	signals := make(chan *dbus.Signal, 25)
	c.conn.Signal(signals)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					slog.Debug("[BLE] signal channel closed", "adapter", c.adapter)
					return
				}
				if sig == nil {
					continue
				}
				handle(sig, stop)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			c.conn.RemoveSignal(signals)
			for _, r := range removers {
				r()
			}
		})
	}, nil
}

// adapterStateFromSignal decodes an adapter power change. PowerState wins
// over Powered when both are present.
func adapterStateFromSignal(sig *dbus.Signal, adapter dbus.ObjectPath) (ble.AdapterState, bool) {
	switch sig.Name {
	case signalPropertiesChanged:
		if sig.Path != adapter || len(sig.Body) < 2 {
			return ble.AdapterOff, false
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != ifaceAdapter {
			return ble.AdapterOff, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return ble.AdapterOff, false
		}
		if v, ok := changed["PowerState"]; ok {
			if s, ok := v.Value().(string); ok {
				return decodePowerState(s)
			}
		}
		if v, ok := changed["Powered"]; ok {
			if powered, ok := v.Value().(bool); ok {
				return poweredState(powered), true
			}
		}
	case signalInterfacesRemoved:
		if len(sig.Body) < 2 {
			return ble.AdapterOff, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok || path != adapter {
			return ble.AdapterOff, false
		}
		ifaces, ok := sig.Body[1].([]string)
		if !ok {
			return ble.AdapterOff, false
		}
		for _, iface := range ifaces {
			if iface == ifaceAdapter {
				return ble.AdapterOff, true
			}
		}
	}
	return ble.AdapterOff, false
}

// connectionFromSignal decodes a Device1.Connected change under adapter.
func connectionFromSignal(sig *dbus.Signal, adapter dbus.ObjectPath) (ble.Device, ble.ConnectionState, bool) {
	if sig.Name != signalPropertiesChanged || len(sig.Body) < 2 {
		return ble.Device{}, ble.StateDisconnected, false
	}
	if !strings.HasPrefix(string(sig.Path), string(adapter)+"/dev_") {
		return ble.Device{}, ble.StateDisconnected, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != ifaceDevice {
		return ble.Device{}, ble.StateDisconnected, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ble.Device{}, ble.StateDisconnected, false
	}
	v, ok := changed["Connected"]
	if !ok {
		return ble.Device{}, ble.StateDisconnected, false
	}
	connected, ok := v.Value().(bool)
	if !ok {
		return ble.Device{}, ble.StateDisconnected, false
	}

	dev := ble.Device{Address: deviceAddress(sig.Path)}
	if connected {
		return dev, ble.StateConnected, true
	}
	return dev, ble.StateDisconnected, true
}

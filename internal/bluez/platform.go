package bluez

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/watchy-server/internal/ble"
)

// AdapterPresent reports whether BlueZ exposes the configured adapter.
func (c *Client) AdapterPresent() bool {
	objects, err := c.managedObjects()
	if err != nil {
		slog.Warn("[BLE] BlueZ unavailable", "error", err)
		return false
	}
	return hasInterfaces(objects, c.adapterPath, ifaceAdapter)
}

// SupportsPeripheral reports whether the adapter can both advertise and
// host a GATT application.
func (c *Client) SupportsPeripheral() bool {
	objects, err := c.managedObjects()
	if err != nil {
		return false
	}
	return hasInterfaces(objects, c.adapterPath, ifaceAdapter, ifaceAdvManager, ifaceGattManager)
}

// AdapterState reads the adapter power state. PowerState is preferred since
// it carries the transitional states; older BlueZ only has Powered.
func (c *Client) AdapterState() (ble.AdapterState, error) {
	obj := c.adapterObject()
	if v, err := obj.GetProperty(ifaceAdapter + ".PowerState"); err == nil {
		if s, ok := v.Value().(string); ok {
			if state, ok := decodePowerState(s); ok {
				return state, nil
			}
		}
	}

	v, err := obj.GetProperty(ifaceAdapter + ".Powered")
	if err != nil {
		return ble.AdapterOff, fmt.Errorf("bluez: read adapter %s power: %w", c.adapter, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return ble.AdapterOff, fmt.Errorf("bluez: adapter %s Powered has type %s", c.adapter, v.Signature())
	}
	return poweredState(powered), nil
}

// RequestEnable asks BlueZ to power the adapter on. The new state arrives
// as a PropertiesChanged signal.
func (c *Client) RequestEnable() error {
	call := c.adapterObject().Go(ifaceProperties+".Set", 0, nil, ifaceAdapter, "Powered", dbus.MakeVariant(true))
	go func() {
		<-call.Done
		if call.Err != nil {
			slog.Warn("[BLE] power on adapter failed", "adapter", c.adapter, "error", call.Err)
		}
	}()
	return nil
}

var _ ble.Platform = (*Client)(nil)

func hasInterfaces(objects managedObjects, path dbus.ObjectPath, ifaces ...string) bool {
	obj, ok := objects[path]
	if !ok {
		return false
	}
	for _, iface := range ifaces {
		if _, ok := obj[iface]; !ok {
			return false
		}
	}
	return true
}

// decodePowerState maps the BlueZ Adapter1.PowerState string.
func decodePowerState(s string) (ble.AdapterState, bool) {
	switch s {
	case "on":
		return ble.AdapterOn, true
	case "off", "off-blocked":
		return ble.AdapterOff, true
	case "off-enabling":
		return ble.AdapterTurningOn, true
	case "on-disabling":
		return ble.AdapterTurningOff, true
	default:
		return ble.AdapterOff, false
	}
}

func poweredState(powered bool) ble.AdapterState {
	if powered {
		return ble.AdapterOn
	}
	return ble.AdapterOff
}

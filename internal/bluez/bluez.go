// Package bluez connects the peripheral to the Linux BlueZ daemon over the
// system D-Bus: adapter capability and power control, adapter and device
// signals, and GATT application export.
package bluez

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName = "org.bluez"

	ifaceAdapter       = "org.bluez.Adapter1"
	ifaceDevice        = "org.bluez.Device1"
	ifaceGattManager   = "org.bluez.GattManager1"
	ifaceAdvManager    = "org.bluez.LEAdvertisingManager1"
	ifaceGattService   = "org.bluez.GattService1"
	ifaceGattChar      = "org.bluez.GattCharacteristic1"
	ifaceGattDesc      = "org.bluez.GattDescriptor1"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties    = "org.freedesktop.DBus.Properties"

	signalPropertiesChanged = ifaceProperties + ".PropertiesChanged"
	signalInterfacesRemoved = ifaceObjectManager + ".InterfacesRemoved"

	errFailed       = "org.bluez.Error.Failed"
	errNotPermitted = "org.bluez.Error.NotPermitted"

	// DefaultAdapter is the adapter used when none is configured.
	DefaultAdapter = "hci0"
)

// managedObjects is the GetManagedObjects reply shape.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Client talks to BlueZ about one adapter.
type Client struct {
	conn        *dbus.Conn
	adapter     string
	adapterPath dbus.ObjectPath
}

// Connect opens a private system bus connection for adapter (e.g. "hci0").
func Connect(adapter string) (*Client, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return NewClient(conn, adapter), nil
}

// NewClient wraps an existing bus connection.
func NewClient(conn *dbus.Conn, adapter string) *Client {
	return &Client{
		conn:        conn,
		adapter:     adapter,
		adapterPath: adapterPath(adapter),
	}
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Adapter returns the adapter name.
func (c *Client) Adapter() string { return c.adapter }

func (c *Client) adapterObject() dbus.BusObject {
	return c.conn.Object(busName, c.adapterPath)
}

func (c *Client) managedObjects() (managedObjects, error) {
	objects := make(managedObjects)
	obj := c.conn.Object(busName, "/")
	if err := obj.Call(ifaceObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("bluez: get managed objects: %w", err)
	}
	return objects, nil
}

// addMatch registers a match rule and returns a func that removes it.
func (c *Client) addMatch(rule string) (func(), error) {
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return nil, fmt.Errorf("bluez: add match rule: %w", err)
	}
	return func() {
		if err := c.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err; err != nil {
			slog.Debug("[BLE] remove match rule failed", "rule", rule, "error", err)
		}
	}, nil
}

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// deviceAddress converts a device object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF to its MAC address.
func deviceAddress(path dbus.ObjectPath) string {
	parts := strings.Split(string(path), "/")
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, "dev_") {
		return ""
	}
	return strings.ReplaceAll(strings.TrimPrefix(last, "dev_"), "_", ":")
}

package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/watchy-server/internal/ble"
)

const testAdapter = dbus.ObjectPath("/org/bluez/hci0")

func propsChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: signalPropertiesChanged,
		Body: []interface{}{iface, changed, []string{}},
	}
}

func TestDeviceAddress(t *testing.T) {
	tests := map[dbus.ObjectPath]string{
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": "AA:BB:CC:DD:EE:FF",
		"/org/bluez/hci1/dev_01_02_03_04_05_06": "01:02:03:04:05:06",
		"/org/bluez/hci0":                       "",
		"/":                                     "",
	}
	for path, want := range tests {
		if got := deviceAddress(path); got != want {
			t.Errorf("deviceAddress(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDecodePowerState(t *testing.T) {
	tests := []struct {
		in     string
		want   ble.AdapterState
		wantOK bool
	}{
		{"on", ble.AdapterOn, true},
		{"off", ble.AdapterOff, true},
		{"off-blocked", ble.AdapterOff, true},
		{"off-enabling", ble.AdapterTurningOn, true},
		{"on-disabling", ble.AdapterTurningOff, true},
		{"bogus", ble.AdapterOff, false},
	}
	for _, tt := range tests {
		got, ok := decodePowerState(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("decodePowerState(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAdapterStateFromSignal(t *testing.T) {
	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   ble.AdapterState
		wantOK bool
	}{
		{
			name:   "power state",
			sig:    propsChanged(testAdapter, ifaceAdapter, map[string]dbus.Variant{"PowerState": dbus.MakeVariant("off-enabling")}),
			want:   ble.AdapterTurningOn,
			wantOK: true,
		},
		{
			name: "power state wins over powered",
			sig: propsChanged(testAdapter, ifaceAdapter, map[string]dbus.Variant{
				"Powered":    dbus.MakeVariant(false),
				"PowerState": dbus.MakeVariant("on-disabling"),
			}),
			want:   ble.AdapterTurningOff,
			wantOK: true,
		},
		{
			name:   "powered only",
			sig:    propsChanged(testAdapter, ifaceAdapter, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			want:   ble.AdapterOn,
			wantOK: true,
		},
		{
			name: "unrelated property",
			sig:  propsChanged(testAdapter, ifaceAdapter, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}),
		},
		{
			name: "other adapter",
			sig:  propsChanged("/org/bluez/hci1", ifaceAdapter, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "other interface",
			sig:  propsChanged(testAdapter, ifaceDevice, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "adapter removed",
			sig: &dbus.Signal{
				Path: "/",
				Name: signalInterfacesRemoved,
				Body: []interface{}{testAdapter, []string{ifaceAdapter, ifaceGattManager}},
			},
			want:   ble.AdapterOff,
			wantOK: true,
		},
		{
			name: "device removed",
			sig: &dbus.Signal{
				Path: "/",
				Name: signalInterfacesRemoved,
				Body: []interface{}{dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), []string{ifaceDevice}},
			},
		},
		{
			name: "short body",
			sig:  &dbus.Signal{Path: testAdapter, Name: signalPropertiesChanged, Body: []interface{}{ifaceAdapter}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := adapterStateFromSignal(tt.sig, testAdapter)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("adapterStateFromSignal() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestConnectionFromSignal(t *testing.T) {
	devPath := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	dev, state, ok := connectionFromSignal(propsChanged(devPath, ifaceDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}), testAdapter)
	if !ok || state != ble.StateConnected || dev.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("connected signal = %v, %v, %v", dev, state, ok)
	}

	dev, state, ok = connectionFromSignal(propsChanged(devPath, ifaceDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}), testAdapter)
	if !ok || state != ble.StateDisconnected || dev.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("disconnected signal = %v, %v, %v", dev, state, ok)
	}

	ignored := []*dbus.Signal{
		propsChanged(devPath, ifaceDevice, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}),
		propsChanged("/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", ifaceDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}),
		propsChanged(testAdapter, ifaceAdapter, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}),
		propsChanged(devPath, ifaceDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant("yes")}),
	}
	for i, sig := range ignored {
		if _, _, ok := connectionFromSignal(sig, testAdapter); ok {
			t.Errorf("signal %d should be ignored", i)
		}
	}
}

func TestHasInterfaces(t *testing.T) {
	objects := managedObjects{
		testAdapter: {
			ifaceAdapter:     {},
			ifaceGattManager: {},
			ifaceAdvManager:  {},
		},
		"/org/bluez/hci1": {
			ifaceAdapter: {},
		},
	}
	if !hasInterfaces(objects, testAdapter, ifaceAdapter, ifaceAdvManager, ifaceGattManager) {
		t.Error("hci0 should support peripheral mode")
	}
	if hasInterfaces(objects, "/org/bluez/hci1", ifaceAdapter, ifaceAdvManager, ifaceGattManager) {
		t.Error("hci1 lacks the advertising and GATT managers")
	}
	if hasInterfaces(objects, "/org/bluez/hci2", ifaceAdapter) {
		t.Error("hci2 does not exist")
	}
}

package bluez

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"

	"github.com/chaz8081/watchy-server/internal/ble"
)

// DefaultAppPath is the object path the GATT application is exported under.
const DefaultAppPath = dbus.ObjectPath("/org/watchy/gatt")

// GattServer exports a ble.Profile as a BlueZ GATT application and routes
// ReadValue/WriteValue calls to a ble.RequestHandler.
type GattServer struct {
	client  *Client
	appPath dbus.ObjectPath
	nextReq atomic.Int64
}

// NewGattServer creates a GattServer on client's adapter.
func NewGattServer(client *Client) *GattServer {
	return &GattServer{client: client, appPath: DefaultAppPath}
}

// object is one exported node of the application tree.
type object struct {
	path  dbus.ObjectPath
	iface string
	props map[string]interface{}

	characteristic uuid.UUID
	descriptor     uuid.UUID
}

// buildTree lays out the objects for p under app.
func buildTree(app dbus.ObjectPath, p ble.Profile) []object {
	svcPath := dbus.ObjectPath(fmt.Sprintf("%s/service0", app))
	objects := []object{{
		path:  svcPath,
		iface: ifaceGattService,
		props: map[string]interface{}{
			"UUID":    p.Service.String(),
			"Primary": true,
		},
	}}
	for i, c := range p.Characteristics {
		charPath := dbus.ObjectPath(fmt.Sprintf("%s/char%d", svcPath, i))
		flags := c.Flags()
		if flags == nil {
			flags = []string{}
		}
		objects = append(objects, object{
			path:  charPath,
			iface: ifaceGattChar,
			props: map[string]interface{}{
				"UUID":    c.UUID.String(),
				"Service": svcPath,
				"Flags":   flags,
			},
			characteristic: c.UUID,
		})
		for j, d := range c.Descriptors {
			objects = append(objects, object{
				path:  dbus.ObjectPath(fmt.Sprintf("%s/desc%d", charPath, j)),
				iface: ifaceGattDesc,
				props: map[string]interface{}{
					"UUID":           d.String(),
					"Characteristic": charPath,
					"Flags":          []string{"read"},
				},
				characteristic: c.UUID,
				descriptor:     d,
			})
		}
	}
	return objects
}

// managedObjectsFor renders the tree as a GetManagedObjects reply.
func managedObjectsFor(objects []object) managedObjects {
	out := make(managedObjects, len(objects))
	for _, o := range objects {
		props := make(map[string]dbus.Variant, len(o.props))
		for k, v := range o.props {
			props[k] = dbus.MakeVariant(v)
		}
		out[o.path] = map[string]map[string]dbus.Variant{o.iface: props}
	}
	return out
}

// objectManager serves GetManagedObjects for the application root.
type objectManager struct {
	objects managedObjects
}

func (m *objectManager) GetManagedObjects() (managedObjects, *dbus.Error) {
	return m.objects, nil
}

// RegisterApplication exports p and registers it with the adapter's
// GattManager1.
func (s *GattServer) RegisterApplication(p ble.Profile, h ble.RequestHandler) (ble.Registration, error) {
	conn := s.client.conn
	tree := buildTree(s.appPath, p)
	reg := &registration{server: s}

	if err := conn.Export(&objectManager{objects: managedObjectsFor(tree)}, s.appPath, ifaceObjectManager); err != nil {
		return nil, fmt.Errorf("bluez: export object manager: %w", err)
	}
	reg.exported = append(reg.exported, exported{s.appPath, ifaceObjectManager})

	for _, o := range tree {
		pm := prop.Map{o.iface: make(map[string]*prop.Prop, len(o.props))}
		for k, v := range o.props {
			pm[o.iface][k] = &prop.Prop{Value: v, Emit: prop.EmitConst}
		}
		if _, err := prop.Export(conn, o.path, pm); err != nil {
			reg.unexport()
			return nil, fmt.Errorf("bluez: export properties of %s: %w", o.path, err)
		}
		reg.exported = append(reg.exported, exported{o.path, ifaceProperties})

		var methods interface{}
		switch o.iface {
		case ifaceGattChar:
			methods = &characteristic{server: s, handler: h, uuid: o.characteristic}
		case ifaceGattDesc:
			methods = &descriptor{server: s, handler: h, characteristic: o.characteristic, uuid: o.descriptor}
		}
		if methods == nil {
			continue
		}
		if err := conn.Export(methods, o.path, o.iface); err != nil {
			reg.unexport()
			return nil, fmt.Errorf("bluez: export %s: %w", o.path, err)
		}
		reg.exported = append(reg.exported, exported{o.path, o.iface})
	}

	cancel, err := s.client.SubscribeConnections(h.HandleConnectionStateChange)
	if err != nil {
		slog.Warn("[GATT] connection tracking unavailable", "error", err)
	}
	reg.cancelConn = cancel

	call := s.client.adapterObject().Call(ifaceGattManager+".RegisterApplication", 0, s.appPath, map[string]dbus.Variant{})
	if call.Err != nil {
		reg.release()
		return nil, fmt.Errorf("bluez: register application on %s: %w", s.client.adapter, call.Err)
	}
	slog.Debug("[GATT] application registered", "path", s.appPath, "objects", len(tree))
	return reg, nil
}

var _ ble.GattStack = (*GattServer)(nil)

type exported struct {
	path  dbus.ObjectPath
	iface string
}

type registration struct {
	server     *GattServer
	exported   []exported
	cancelConn func()
	once       sync.Once
	err        error
}

func (r *registration) Unregister() error {
	r.once.Do(func() {
		call := r.server.client.adapterObject().Call(ifaceGattManager+".UnregisterApplication", 0, r.server.appPath)
		if call.Err != nil {
			r.err = fmt.Errorf("bluez: unregister application: %w", call.Err)
		}
		r.release()
	})
	return r.err
}

func (r *registration) release() {
	if r.cancelConn != nil {
		r.cancelConn()
		r.cancelConn = nil
	}
	r.unexport()
}

func (r *registration) unexport() {
	conn := r.server.client.conn
	for _, e := range r.exported {
		_ = conn.Export(nil, e.path, e.iface)
	}
	r.exported = nil
}

func (s *GattServer) requestID() int {
	return int(s.nextReq.Add(1))
}

// characteristic serves org.bluez.GattCharacteristic1 methods.
type characteristic struct {
	server  *GattServer
	handler ble.RequestHandler
	uuid    uuid.UUID
}

func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	w := &callWriter{}
	c.handler.HandleCharacteristicRead(ble.ReadRequest{
		Device:         optionDevice(options),
		RequestID:      c.server.requestID(),
		Offset:         optionOffset(options),
		Characteristic: c.uuid,
	}, w)
	return w.result()
}

func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	w := &callWriter{}
	c.handler.HandleCharacteristicWrite(ble.WriteRequest{
		Device:         optionDevice(options),
		RequestID:      c.server.requestID(),
		Offset:         optionOffset(options),
		Characteristic: c.uuid,
		Value:          value,
		ResponseNeeded: optionString(options, "type") != "command",
	}, w)
	if !w.sent {
		// Write commands expect no answer; BlueZ still needs the call to return.
		return nil
	}
	_, err := w.result()
	return err
}

func (c *characteristic) StartNotify() *dbus.Error {
	return dbus.NewError(errNotPermitted, []interface{}{"notifications not supported"})
}

func (c *characteristic) StopNotify() *dbus.Error {
	return nil
}

// descriptor serves org.bluez.GattDescriptor1 methods.
type descriptor struct {
	server         *GattServer
	handler        ble.RequestHandler
	characteristic uuid.UUID
	uuid           uuid.UUID
}

func (d *descriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	w := &callWriter{}
	d.handler.HandleDescriptorRead(ble.DescriptorReadRequest{
		Device:         optionDevice(options),
		RequestID:      d.server.requestID(),
		Offset:         optionOffset(options),
		Characteristic: d.characteristic,
		Descriptor:     d.uuid,
	}, w)
	return w.result()
}

// callWriter captures the response the handler sends for one D-Bus call.
type callWriter struct {
	sent   bool
	status ble.Status
	value  []byte
}

func (w *callWriter) SendResponse(_ ble.Device, _ int, status ble.Status, _ int, value []byte) error {
	if w.sent {
		return fmt.Errorf("bluez: response already sent")
	}
	w.sent = true
	w.status = status
	w.value = value
	return nil
}

// result converts the captured response into a method reply.
func (w *callWriter) result() ([]byte, *dbus.Error) {
	if !w.sent {
		return nil, dbus.NewError(errFailed, []interface{}{"no response"})
	}
	switch w.status {
	case ble.StatusSuccess:
		if w.value == nil {
			return []byte{}, nil
		}
		return w.value, nil
	case ble.StatusWriteNotPermitted:
		return nil, dbus.NewError(errNotPermitted, []interface{}{w.status.String()})
	default:
		return nil, dbus.NewError(errFailed, []interface{}{w.status.String()})
	}
}

func optionDevice(options map[string]dbus.Variant) ble.Device {
	v, ok := options["device"]
	if !ok {
		return ble.Device{}
	}
	path, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return ble.Device{}
	}
	return ble.Device{Address: deviceAddress(path)}
}

func optionOffset(options map[string]dbus.Variant) int {
	v, ok := options["offset"]
	if !ok {
		return 0
	}
	switch n := v.Value().(type) {
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	}
	return 0
}

func optionString(options map[string]dbus.Variant, key string) string {
	v, ok := options[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return strings.ToLower(s)
}

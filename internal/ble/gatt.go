package ble

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a GATT response status. Values match the Android BluetoothGatt
// constants.
type Status int

const (
	StatusSuccess           Status = 0
	StatusWriteNotPermitted Status = 3
	StatusFailure           Status = 257
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// ReadRequest is one inbound characteristic read. It must be answered
// exactly once.
type ReadRequest struct {
	Device         Device
	RequestID      int
	Offset         int
	Characteristic uuid.UUID
}

// DescriptorReadRequest is one inbound descriptor read.
type DescriptorReadRequest struct {
	Device         Device
	RequestID      int
	Offset         int
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
}

// WriteRequest is one inbound characteristic write.
type WriteRequest struct {
	Device         Device
	RequestID      int
	Offset         int
	Characteristic uuid.UUID
	Value          []byte
	ResponseNeeded bool
}

// ResponseWriter sends a response for a request back through the OS stack.
type ResponseWriter interface {
	SendResponse(device Device, requestID int, status Status, offset int, value []byte) error
}

// RequestHandler receives requests from the OS stack. Implementations must
// not block.
type RequestHandler interface {
	HandleCharacteristicRead(req ReadRequest, w ResponseWriter)
	HandleDescriptorRead(req DescriptorReadRequest, w ResponseWriter)
	HandleCharacteristicWrite(req WriteRequest, w ResponseWriter)
	HandleConnectionStateChange(device Device, state ConnectionState)
}

// Registration is a GATT application registered with the OS stack.
type Registration interface {
	Unregister() error
}

// GattStack registers GATT applications with the OS stack.
type GattStack interface {
	RegisterApplication(p Profile, h RequestHandler) (Registration, error)
}

// ValueSource produces a characteristic value at read time.
type ValueSource func(now time.Time) []byte

// TimeValue encodes now as decimal ASCII Unix epoch milliseconds.
func TimeValue(now time.Time) []byte {
	return []byte(strconv.FormatInt(now.UnixMilli(), 10))
}

// ServerHandle identifies one OPEN period of the GATT server.
type ServerHandle struct {
	id  uint64
	reg Registration
}

// ID returns the handle's sequence number.
func (h *ServerHandle) ID() uint64 { return h.id }

// GattServerController owns the GATT server registration and answers the
// requests the OS stack routes to it.
type GattServerController struct {
	stack GattStack
	clock func() time.Time

	mu        sync.Mutex
	profile   Profile
	values    map[uuid.UUID]ValueSource
	handle    *ServerHandle
	opening   bool
	nextID    uint64
	connected map[string]Device
}

// NewGattServerController creates a CLOSED controller. The time
// characteristic is served from TimeValue.
func NewGattServerController(stack GattStack) *GattServerController {
	return &GattServerController{
		stack:  stack,
		clock:  time.Now,
		values: map[uuid.UUID]ValueSource{
			TimeCharacteristicUUID: TimeValue,
		},
		connected: make(map[string]Device),
	}
}

// SetClock overrides the clock used for value sources.
func (c *GattServerController) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// SetValueSource binds a value source to a characteristic UUID.
func (c *GattServerController) SetValueSource(u uuid.UUID, src ValueSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[u] = src
}

// Open registers the profile with the OS stack. Opening an open server
// returns the current handle. A rejected registration yields a *GattError
// of kind RegistrationFailed; an Open racing another Open yields an
// *InvalidStateError.
func (c *GattServerController) Open(p Profile) (*ServerHandle, error) {
	c.mu.Lock()
	if c.handle != nil {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	if c.opening {
		c.mu.Unlock()
		return nil, &InvalidStateError{Op: "open gatt server"}
	}
	c.opening = true
	c.profile = p
	c.mu.Unlock()

	reg, err := c.stack.RegisterApplication(p, c)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return nil, &GattError{Kind: RegistrationFailed, Err: err}
	}
	c.nextID++
	h := &ServerHandle{id: c.nextID, reg: reg}
	c.handle = h
	c.mu.Unlock()

	slog.Info("[GATT] server opened", "service", p.Service, "handle", h.id)
	return h, nil
}

// Close unregisters the server. Closing a stale or already closed handle
// does nothing.
func (c *GattServerController) Close(h *ServerHandle) {
	if !c.detach(h) {
		return
	}
	if err := h.reg.Unregister(); err != nil {
		slog.Warn("[GATT] unregister failed", "handle", h.id, "error", err)
		return
	}
	slog.Info("[GATT] server closed", "handle", h.id)
}

// Invalidate drops the current handle after the adapter went down. The
// registration is still released so the next Open can register again; the
// OS stack may already have discarded it, so an unregister error is only
// logged.
func (c *GattServerController) Invalidate() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil || !c.detach(h) {
		return
	}
	slog.Info("[GATT] server handle invalidated", "handle", h.id)
	if err := h.reg.Unregister(); err != nil {
		slog.Debug("[GATT] releasing invalidated server", "handle", h.id, "error", err)
	}
}

// detach clears h if it is the current handle.
func (c *GattServerController) detach(h *ServerHandle) bool {
	if h == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != h {
		return false
	}
	c.handle = nil
	c.connected = make(map[string]Device)
	return true
}

// IsOpen reports whether the server is OPEN.
func (c *GattServerController) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// ConnectedDevices returns the connected centrals sorted by address.
func (c *GattServerController) ConnectedDevices() []Device {
	c.mu.Lock()
	devices := make([]Device, 0, len(c.connected))
	for _, d := range c.connected {
		devices = append(devices, d)
	}
	c.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

// HandleCharacteristicRead answers a read with the characteristic's current
// value, or with StatusFailure when the UUID is not served.
func (c *GattServerController) HandleCharacteristicRead(req ReadRequest, w ResponseWriter) {
	ow := &onceWriter{w: w}
	defer ow.ensure(req.Device, req.RequestID)

	c.mu.Lock()
	open := c.handle != nil
	spec, declared := c.profile.Characteristic(req.Characteristic)
	src := c.values[req.Characteristic]
	now := c.clock()
	c.mu.Unlock()

	var rerr *RequestResolutionError
	switch {
	case !open:
		rerr = &RequestResolutionError{Characteristic: req.Characteristic, Reason: "server closed"}
	case !declared:
		rerr = &RequestResolutionError{Characteristic: req.Characteristic, Reason: "not declared"}
	case !spec.Readable():
		rerr = &RequestResolutionError{Characteristic: req.Characteristic, Reason: "not readable"}
	case src == nil:
		rerr = &RequestResolutionError{Characteristic: req.Characteristic, Reason: "no value source"}
	}
	if rerr != nil {
		slog.Warn("[GATT] invalid characteristic read", "device", req.Device, "error", rerr)
		ow.send(req.Device, req.RequestID, StatusFailure, 0, nil)
		return
	}

	slog.Info("[GATT] read", "device", req.Device, "characteristic", req.Characteristic)
	ow.send(req.Device, req.RequestID, StatusSuccess, 0, src(now))
}

// HandleDescriptorRead fails every descriptor read: the profile declares no
// readable descriptor values.
func (c *GattServerController) HandleDescriptorRead(req DescriptorReadRequest, w ResponseWriter) {
	ow := &onceWriter{w: w}
	defer ow.ensure(req.Device, req.RequestID)

	reason := "unknown descriptor"
	c.mu.Lock()
	if c.profile.HasDescriptor(req.Characteristic, req.Descriptor) {
		reason = "descriptor has no value"
	}
	c.mu.Unlock()

	rerr := &RequestResolutionError{Characteristic: req.Characteristic, Descriptor: req.Descriptor, Reason: reason}
	slog.Warn("[GATT] descriptor read request rejected", "device", req.Device, "error", rerr)
	ow.send(req.Device, req.RequestID, StatusFailure, 0, nil)
}

// HandleCharacteristicWrite rejects writes to characteristics that are not
// writable. Writes without a response request are dropped after logging.
func (c *GattServerController) HandleCharacteristicWrite(req WriteRequest, w ResponseWriter) {
	c.mu.Lock()
	open := c.handle != nil
	spec, declared := c.profile.Characteristic(req.Characteristic)
	c.mu.Unlock()

	status := StatusWriteNotPermitted
	switch {
	case !open || !declared:
		status = StatusFailure
	case spec.Writable():
		// No writable characteristic has a sink yet.
		status = StatusFailure
	}
	slog.Warn("[GATT] write rejected", "device", req.Device, "characteristic", req.Characteristic, "status", status)

	if !req.ResponseNeeded {
		return
	}
	ow := &onceWriter{w: w}
	ow.send(req.Device, req.RequestID, status, 0, nil)
}

// HandleConnectionStateChange tracks connected centrals while the server is
// open. It has no effect on the characteristic tree.
func (c *GattServerController) HandleConnectionStateChange(device Device, state ConnectionState) {
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		slog.Debug("[GATT] ignoring connection change while closed", "device", device, "state", state)
		return
	}
	if state == StateConnected {
		c.connected[device.Address] = device
	} else {
		delete(c.connected, device.Address)
	}
	n := len(c.connected)
	c.mu.Unlock()

	slog.Info("[GATT] device "+state.String(), "device", device, "connected", n)
}

// onceWriter guarantees a single response per request. If the handler
// returns without answering, ensure sends StatusFailure.
type onceWriter struct {
	w    ResponseWriter
	sent bool
}

func (o *onceWriter) send(device Device, requestID int, status Status, offset int, value []byte) {
	if o.sent {
		return
	}
	o.sent = true
	if err := o.w.SendResponse(device, requestID, status, offset, value); err != nil {
		slog.Warn("[GATT] send response failed", "device", device, "request", requestID, "error", err)
	}
}

func (o *onceWriter) ensure(device Device, requestID int) {
	if r := recover(); r != nil {
		slog.Error("[GATT] request handler panic", "device", device, "request", requestID, "panic", r)
	}
	o.send(device, requestID, StatusFailure, 0, nil)
}

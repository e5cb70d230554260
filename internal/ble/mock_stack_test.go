package ble

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// mockPlatform simulates the host capability surface.
type mockPlatform struct {
	mu         sync.Mutex
	present    bool
	peripheral bool
	state      AdapterState
	stateErr   error
	enableErr  error
	enables    int

	// afterState runs once, after the first AdapterState call has read
	// the state.
	afterState func()
}

func newMockPlatform(state AdapterState) *mockPlatform {
	return &mockPlatform{present: true, peripheral: true, state: state}
}

func (p *mockPlatform) AdapterPresent() bool     { return p.present }
func (p *mockPlatform) SupportsPeripheral() bool { return p.peripheral }

func (p *mockPlatform) AdapterState() (AdapterState, error) {
	p.mu.Lock()
	state, err := p.state, p.stateErr
	hook := p.afterState
	p.afterState = nil
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return state, err
}

func (p *mockPlatform) setState(s AdapterState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *mockPlatform) RequestEnable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enables++
	return p.enableErr
}

func (p *mockPlatform) enableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enables
}

// mockStateSource lets tests emit adapter events.
type mockStateSource struct {
	mu        sync.Mutex
	ch        chan<- AdapterState
	subs      int
	cancels   int
	subscribe error
}

func (s *mockStateSource) SubscribeAdapterState(ch chan<- AdapterState) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribe != nil {
		return nil, s.subscribe
	}
	s.ch = ch
	s.subs++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ch = nil
		s.cancels++
	}, nil
}

// Emit delivers an event to the current subscriber, if any.
func (s *mockStateSource) Emit(state AdapterState) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch != nil {
		ch <- state
	}
}

func (s *mockStateSource) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// mockAdvHandle records Stop calls.
type mockAdvHandle struct {
	mu      sync.Mutex
	stops   int
	stopErr error
}

func (h *mockAdvHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return h.stopErr
}

func (h *mockAdvHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// mockAdvertiser returns a fresh handle per start. When gate is set, each
// start blocks until a value is sent on it.
type mockAdvertiser struct {
	mu       sync.Mutex
	handles  []*mockAdvHandle
	starts   int
	startErr error
	gate     chan struct{}
	started  chan struct{}
	settings []AdvertiseSettings
	data     []AdvertiseData
}

func (a *mockAdvertiser) StartAdvertising(settings AdvertiseSettings, data AdvertiseData) (AdvertisementHandle, error) {
	a.mu.Lock()
	a.starts++
	a.settings = append(a.settings, settings)
	a.data = append(a.data, data)
	gate, started := a.gate, a.started
	a.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return nil, a.startErr
	}
	h := &mockAdvHandle{}
	a.handles = append(a.handles, h)
	return h, nil
}

func (a *mockAdvertiser) startCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

func (a *mockAdvertiser) handle(i int) *mockAdvHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.handles) {
		return nil
	}
	return a.handles[i]
}

func (a *mockAdvertiser) handleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// recordingCallback records advertise start results.
type recordingCallback struct {
	mu        sync.Mutex
	successes int
	failures  []AdvertiseErrorCode
}

func (c *recordingCallback) OnStartSuccess(AdvertiseSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
}

func (c *recordingCallback) OnStartFailure(code AdvertiseErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, code)
}

func (c *recordingCallback) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes, len(c.failures)
}

// mockRegistration records Unregister calls.
type mockRegistration struct {
	mu       sync.Mutex
	unregs   int
	unregErr error
}

func (r *mockRegistration) Unregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregs++
	return r.unregErr
}

func (r *mockRegistration) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregs
}

// mockStack simulates the OS GATT stack. A non-nil gate blocks each
// registration until it receives a value; entered is signalled first.
type mockStack struct {
	mu       sync.Mutex
	regs     []*mockRegistration
	handler  RequestHandler
	profile  Profile
	register error
	gate     chan struct{}
	entered  chan struct{}
}

func (s *mockStack) RegisterApplication(p Profile, h RequestHandler) (Registration, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.register != nil {
		return nil, s.register
	}
	r := &mockRegistration{}
	s.regs = append(s.regs, r)
	s.handler = h
	s.profile = p
	return r, nil
}

func (s *mockStack) registrations() []*mockRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mockRegistration(nil), s.regs...)
}

type response struct {
	device    Device
	requestID int
	status    Status
	offset    int
	value     []byte
}

// recordingWriter captures every response sent for a request.
type recordingWriter struct {
	mu        sync.Mutex
	responses []response
	err       error
}

func (w *recordingWriter) SendResponse(device Device, requestID int, status Status, offset int, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responses = append(w.responses, response{device, requestID, status, offset, value})
	return w.err
}

func (w *recordingWriter) only(t *testing.T) response {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.responses) != 1 {
		t.Fatalf("got %d responses, want exactly 1", len(w.responses))
	}
	return w.responses[0]
}

var errMock = errors.New("mock failure")

func TestMocksImplementInterfaces(t *testing.T) {
	var _ Platform = (*mockPlatform)(nil)
	var _ StateSource = (*mockStateSource)(nil)
	var _ Advertiser = (*mockAdvertiser)(nil)
	var _ AdvertiseCallback = (*recordingCallback)(nil)
	var _ GattStack = (*mockStack)(nil)
	var _ ResponseWriter = (*recordingWriter)(nil)
}

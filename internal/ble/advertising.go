package ble

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdvertiseMode selects the advertising duty cycle.
type AdvertiseMode int

const (
	AdvertiseModeLowPower AdvertiseMode = iota
	AdvertiseModeBalanced
	AdvertiseModeLowLatency
)

// Interval returns the advertising interval used for the mode.
func (m AdvertiseMode) Interval() time.Duration {
	switch m {
	case AdvertiseModeLowPower:
		return 1000 * time.Millisecond
	case AdvertiseModeLowLatency:
		return 100 * time.Millisecond
	default:
		return 250 * time.Millisecond
	}
}

func (m AdvertiseMode) String() string {
	switch m {
	case AdvertiseModeLowPower:
		return "low_power"
	case AdvertiseModeLowLatency:
		return "low_latency"
	default:
		return "balanced"
	}
}

// TxPowerLevel selects the advertising transmit power.
type TxPowerLevel int

const (
	TxPowerUltraLow TxPowerLevel = iota
	TxPowerLow
	TxPowerMedium
	TxPowerHigh
)

// Dbm converts the level to its nominal dBm value.
func (l TxPowerLevel) Dbm() int {
	switch l {
	case TxPowerUltraLow:
		return -21
	case TxPowerLow:
		return -15
	case TxPowerHigh:
		return 1
	default:
		return -7
	}
}

// AdvertiseSettings are the radio parameters of an advertisement.
type AdvertiseSettings struct {
	Mode        AdvertiseMode
	Connectable bool
	Timeout     time.Duration // 0 = advertise until stopped
	TxPower     TxPowerLevel
}

// DefaultAdvertiseSettings returns connectable, balanced, untimed, medium
// power settings.
func DefaultAdvertiseSettings() AdvertiseSettings {
	return AdvertiseSettings{
		Mode:        AdvertiseModeBalanced,
		Connectable: true,
		TxPower:     TxPowerMedium,
	}
}

// AdvertiseData is the advertisement payload.
type AdvertiseData struct {
	ServiceUUIDs        []uuid.UUID
	IncludeDeviceName   bool
	IncludeTxPowerLevel bool
}

// AdvertiseDataFor builds the payload for a profile: the service UUID only,
// keeping the legacy 31-byte payload free of name and TX power fields.
func AdvertiseDataFor(p Profile) AdvertiseData {
	return AdvertiseData{ServiceUUIDs: []uuid.UUID{p.Service}}
}

// AdvertisementHandle is a running advertisement owned by the OS stack.
type AdvertisementHandle interface {
	Stop() error
}

// Advertiser starts advertisements on the OS stack. StartAdvertising may
// block until the stack has accepted or rejected the request.
type Advertiser interface {
	StartAdvertising(settings AdvertiseSettings, data AdvertiseData) (AdvertisementHandle, error)
}

// AdvertiseCallback receives the asynchronous result of a start request.
type AdvertiseCallback interface {
	OnStartSuccess(settingsInEffect AdvertiseSettings)
	OnStartFailure(code AdvertiseErrorCode)
}

// LogAdvertiseCallback logs start results and nothing else.
type LogAdvertiseCallback struct{}

func (LogAdvertiseCallback) OnStartSuccess(s AdvertiseSettings) {
	slog.Info("[ADV] LE advertise started", "mode", s.Mode, "connectable", s.Connectable)
}

func (LogAdvertiseCallback) OnStartFailure(code AdvertiseErrorCode) {
	slog.Warn("[ADV] LE advertise failed", "code", int(code), "reason", code)
}

type sessionState int

const (
	sessionAbsent sessionState = iota
	sessionAcquiring
	sessionActive
)

// AdvertisingController owns the single advertising session of the
// peripheral. Backend start calls run on one FIFO worker so that a late
// start result can never overtake a newer request.
type AdvertisingController struct {
	advertiser Advertiser
	settings   AdvertiseSettings
	callback   AdvertiseCallback

	mu         sync.Mutex
	state      sessionState
	generation uint64
	handle     AdvertisementHandle

	queue *opQueue
}

// NewAdvertisingController creates a controller. A nil callback logs results.
func NewAdvertisingController(advertiser Advertiser, settings AdvertiseSettings, callback AdvertiseCallback) *AdvertisingController {
	if callback == nil {
		callback = LogAdvertiseCallback{}
	}
	c := &AdvertisingController{
		advertiser: advertiser,
		settings:   settings,
		callback:   callback,
		queue:      newOpQueue(),
	}
	go c.queue.run()
	return c
}

// Start begins advertising the profile's service UUID. Any existing session
// is stopped first. The outcome is reported to the AdvertiseCallback;
// failures never propagate as errors.
func (c *AdvertisingController) Start(p Profile) error {
	if err := c.Stop(); err != nil {
		slog.Warn("[ADV] stopping previous session before restart", "error", err)
	}

	data := AdvertiseDataFor(p)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = sessionAcquiring
	c.mu.Unlock()

	slog.Info("[ADV] BLE advertising starting", "service", p.Service)
	c.queue.push(func() { c.startSession(gen, data) })
	return nil
}

// startSession runs on the worker.
func (c *AdvertisingController) startSession(gen uint64, data AdvertiseData) {
	handle, err := c.advertiser.StartAdvertising(c.settings, data)

	c.mu.Lock()
	current := gen == c.generation && c.state == sessionAcquiring
	if current {
		if err != nil {
			c.state = sessionAbsent
		} else {
			c.state = sessionActive
			c.handle = handle
		}
	}
	c.mu.Unlock()

	if !current {
		slog.Debug("[ADV] ignoring stale start result", "generation", gen, "error", err)
		if err == nil && handle != nil {
			if stopErr := handle.Stop(); stopErr != nil {
				slog.Debug("[ADV] stopping stale advertisement", "error", stopErr)
			}
		}
		return
	}

	if err != nil {
		c.callback.OnStartFailure(advertiseErrorCode(err))
		return
	}
	if c.settings.Timeout > 0 {
		time.AfterFunc(c.settings.Timeout, func() { c.expire(gen) })
	}
	c.callback.OnStartSuccess(c.settings)
}

// expire ends session gen when its advertising timeout elapses. A session
// that was stopped or replaced in the meantime is left alone.
func (c *AdvertisingController) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != sessionActive {
		c.mu.Unlock()
		return
	}
	handle := c.handle
	c.handle = nil
	c.generation++
	c.state = sessionAbsent
	c.mu.Unlock()

	if err := handle.Stop(); err != nil {
		slog.Warn("[ADV] stopping timed out advertisement", "error", err)
		return
	}
	slog.Info("[ADV] BLE advertising timed out", "timeout", c.settings.Timeout)
}

// Stop ends the current session. With no session it is a no-op. An error
// means the OS handle was already unusable; callers log it and move on.
func (c *AdvertisingController) Stop() error {
	c.mu.Lock()
	switch c.state {
	case sessionAbsent:
		c.mu.Unlock()
		return nil
	case sessionAcquiring:
		// The worker tears the late handle down when the start returns.
		c.generation++
		c.state = sessionAbsent
		c.mu.Unlock()
		return nil
	}
	handle := c.handle
	c.handle = nil
	c.generation++
	c.state = sessionAbsent
	c.mu.Unlock()

	if err := handle.Stop(); err != nil {
		return &AdvertiseError{Code: AdvertiseFailedInternalError, Err: err}
	}
	slog.Info("[ADV] BLE advertising stopped")
	return nil
}

// Active reports whether an advertisement is confirmed running.
func (c *AdvertisingController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == sessionActive
}

// Close stops the worker. Pending start requests are abandoned.
func (c *AdvertisingController) Close() {
	c.queue.close()
}

// advertiseErrorCode maps a backend error to a callback code.
func advertiseErrorCode(err error) AdvertiseErrorCode {
	var ae *AdvertiseError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return AdvertiseFailedInternalError
}

// opQueue is an unbounded FIFO of funcs executed on one goroutine.
type opQueue struct {
	mu     sync.Mutex
	ops    []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newOpQueue() *opQueue {
	return &opQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *opQueue) push(op func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *opQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.ops) == 0 {
				q.mu.Unlock()
				break
			}
			op := q.ops[0]
			q.ops = q.ops[1:]
			q.mu.Unlock()
			op()
		}
	}
}

func (q *opQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.ops = nil
	close(q.done)
}

package ble

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCapability means the host cannot act as a BLE peripheral.
	ErrCapability = errors.New("ble: peripheral mode unsupported")
	// ErrAdvertise marks advertising failures. They are never fatal.
	ErrAdvertise = errors.New("ble: advertise failed")
	// ErrRegistrationFailed means the OS stack rejected the GATT application.
	ErrRegistrationFailed = errors.New("ble: gatt registration failed")
	// ErrInvalidState is returned for calls made in the wrong lifecycle state.
	ErrInvalidState = errors.New("ble: invalid state")
)

// CapabilityError is the only fatal error of the peripheral.
type CapabilityError struct {
	Reason string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("ble: peripheral mode unsupported: %s", e.Reason)
}

func (e *CapabilityError) Unwrap() error { return ErrCapability }

// AdvertiseErrorCode mirrors the Android AdvertiseCallback failure codes.
type AdvertiseErrorCode int

const (
	AdvertiseFailedDataTooLarge       AdvertiseErrorCode = 1
	AdvertiseFailedTooManyAdvertisers AdvertiseErrorCode = 2
	AdvertiseFailedAlreadyStarted     AdvertiseErrorCode = 3
	AdvertiseFailedInternalError      AdvertiseErrorCode = 4
	AdvertiseFailedFeatureUnsupported AdvertiseErrorCode = 5
)

func (c AdvertiseErrorCode) String() string {
	switch c {
	case AdvertiseFailedDataTooLarge:
		return "data too large"
	case AdvertiseFailedTooManyAdvertisers:
		return "too many advertisers"
	case AdvertiseFailedAlreadyStarted:
		return "already started"
	case AdvertiseFailedInternalError:
		return "internal error"
	case AdvertiseFailedFeatureUnsupported:
		return "feature unsupported"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}

// AdvertiseError reports a failed advertising operation.
type AdvertiseError struct {
	Code AdvertiseErrorCode
	Err  error
}

func (e *AdvertiseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ble: advertise failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("ble: advertise failed (%s)", e.Code)
}

func (e *AdvertiseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAdvertise}
	}
	return []error{ErrAdvertise, e.Err}
}

// GattErrorKind classifies GATT server failures.
type GattErrorKind int

const (
	RegistrationFailed GattErrorKind = iota + 1
)

// GattError reports a failed GATT server operation.
type GattError struct {
	Kind GattErrorKind
	Err  error
}

func (e *GattError) Error() string {
	return fmt.Sprintf("ble: gatt registration failed: %v", e.Err)
}

func (e *GattError) Unwrap() []error {
	return []error{ErrRegistrationFailed, e.Err}
}

// RequestResolutionError describes a request that could not be matched to a
// declared attribute. It is logged; the request is still answered.
type RequestResolutionError struct {
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
	Reason         string
}

func (e *RequestResolutionError) Error() string {
	if e.Descriptor != uuid.Nil {
		return fmt.Sprintf("ble: unresolved descriptor %s on %s: %s", e.Descriptor, e.Characteristic, e.Reason)
	}
	return fmt.Sprintf("ble: unresolved characteristic %s: %s", e.Characteristic, e.Reason)
}

// InvalidStateError reports a lifecycle misuse, such as subscribing twice.
type InvalidStateError struct {
	Op string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ble: %s: invalid state", e.Op)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

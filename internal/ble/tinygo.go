package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdvertiser advertises through tinygo-org/bluetooth. The library
// exposes one advertisement per adapter, so at most one handle is live at a
// time.
type TinyGoAdvertiser struct {
	adapter *bluetooth.Adapter
	name    string

	mu      sync.Mutex
	enabled bool
	live    *tinyGoAdvertisement
}

// NewTinyGoAdvertiser creates an advertiser on the default adapter. name is
// used as the local name when the payload asks for it.
func NewTinyGoAdvertiser(name string) *TinyGoAdvertiser {
	return &TinyGoAdvertiser{
		adapter: bluetooth.DefaultAdapter,
		name:    name,
	}
}

func (a *TinyGoAdvertiser) enable() error {
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	a.enabled = true
	return nil
}

// StartAdvertising configures and starts the adapter's advertisement.
func (a *TinyGoAdvertiser) StartAdvertising(settings AdvertiseSettings, data AdvertiseData) (AdvertisementHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.live != nil {
		return nil, &AdvertiseError{Code: AdvertiseFailedAlreadyStarted}
	}
	if err := a.enable(); err != nil {
		return nil, &AdvertiseError{Code: AdvertiseFailedFeatureUnsupported, Err: fmt.Errorf("enable adapter: %w", err)}
	}

	uuids := make([]bluetooth.UUID, 0, len(data.ServiceUUIDs))
	for _, u := range data.ServiceUUIDs {
		bu, err := bluetooth.ParseUUID(u.String())
		if err != nil {
			return nil, &AdvertiseError{Code: AdvertiseFailedInternalError, Err: fmt.Errorf("parse service UUID: %w", err)}
		}
		uuids = append(uuids, bu)
	}

	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeInd,
		ServiceUUIDs:      uuids,
		Interval:          bluetooth.NewDuration(settings.Mode.Interval()),
	}
	if !settings.Connectable {
		opts.AdvertisementType = bluetooth.AdvertisingTypeNonConnInd
	}
	if data.IncludeDeviceName {
		opts.LocalName = a.name
	}

	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(opts); err != nil {
		return nil, &AdvertiseError{Code: AdvertiseFailedDataTooLarge, Err: fmt.Errorf("configure: %w", err)}
	}
	if err := adv.Start(); err != nil {
		return nil, &AdvertiseError{Code: AdvertiseFailedInternalError, Err: fmt.Errorf("start: %w", err)}
	}

	h := &tinyGoAdvertisement{owner: a, adv: adv}
	a.live = h
	return h, nil
}

var _ Advertiser = (*TinyGoAdvertiser)(nil)

type tinyGoAdvertisement struct {
	owner *TinyGoAdvertiser
	adv   *bluetooth.Advertisement

	once sync.Once
	err  error
}

func (h *tinyGoAdvertisement) Stop() error {
	h.once.Do(func() {
		h.err = h.adv.Stop()

		h.owner.mu.Lock()
		if h.owner.live == h {
			h.owner.live = nil
		}
		h.owner.mu.Unlock()
	})
	return h.err
}

// Command test-advertise is a manual test for BLE advertising.
// It counts down 3 seconds, then advertises the Watchy service UUID for
// the given duration. Scan with a phone to see the advertisement.
//
// Usage:
//
//	go run ./cmd/test-advertise [--mode low_power|balanced|low_latency] [--duration 30s]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/watchy-server/internal/ble"
	"github.com/chaz8081/watchy-server/internal/config"
)

type printCallback struct{}

func (printCallback) OnStartSuccess(s ble.AdvertiseSettings) {
	fmt.Printf(">>> advertising (mode %s, connectable=%t)\n", s.Mode, s.Connectable)
}

func (printCallback) OnStartFailure(code ble.AdvertiseErrorCode) {
	fmt.Printf("!!! advertise failed: %s\n", code)
}

func main() {
	mode := flag.String("mode", "balanced", "advertise mode: low_power, balanced or low_latency")
	duration := flag.Duration("duration", 30*time.Second, "how long to advertise")
	flag.Parse()

	cfg := config.Default()
	cfg.Advertise.Mode = *mode
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Will advertise %s in %q mode for %s in 3 seconds...\n", ble.ServiceUUID, *mode, *duration)

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	ctl := ble.NewAdvertisingController(ble.NewTinyGoAdvertiser("watchy-test"), cfg.AdvertiseSettings(), printCallback{})
	defer ctl.Close()

	if err := ctl.Start(ble.WatchyProfile()); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	time.Sleep(*duration)

	if err := ctl.Stop(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}

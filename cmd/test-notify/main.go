// Command test-notify is a manual test for desktop notification capture.
// Run it, then trigger a notification (e.g. notify-send hi there) to see
// cache events. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-notify [--size 4]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/watchy-server/internal/notify"
)

func main() {
	size := flag.Int("size", 4, "cache size; small values make eviction easy to see")
	flag.Parse()

	store, err := notify.NewStore(*size)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	store.OnChange(func(e notify.Event) {
		switch e.Kind {
		case notify.EventPosted:
			fmt.Printf(">>> POSTED  %s %q\n", e.Key, e.Notification.Text)
		case notify.EventRemoved:
			fmt.Printf("<<< REMOVED %s\n", e.Key)
		case notify.EventEvicted:
			fmt.Printf("--- EVICTED %s\n", e.Key)
		}
		fmt.Printf("    latest: %q (%d cached)\n", store.LatestText(e.Notification.Posted), store.Len())
	})

	fmt.Printf("Capturing notifications into a cache of %d...\n", *size)
	fmt.Println("Press Ctrl+C to exit.")

	ctx, cancel := context.WithCancel(context.Background())

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		cancel()
	}()

	// Blocks until stopped
	if err := notify.NewCapture(store).Run(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	fmt.Println("Done.")
}

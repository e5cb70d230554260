// Package notify captures desktop notifications and keeps the most recent
// one per conversation in a bounded store.
package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultChannel is used when a notification carries no category hint.
const DefaultChannel = "default"

// Key identifies a notification thread: the posting application, the
// notification id it was given, and its channel.
type Key struct {
	Source  string
	ID      uint32
	Channel string
}

// String renders the key as {source}#{id}@{channel}.
func (k Key) String() string {
	return fmt.Sprintf("%s#%d@%s", k.Source, k.ID, k.Channel)
}

// ParseKey parses the String form. The source may itself contain '#' or
// '@'; the id and channel are taken from the last separators.
func ParseKey(s string) (Key, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return Key{}, fmt.Errorf("notify: parse key %q: missing channel", s)
	}
	hash := strings.LastIndex(s[:at], "#")
	if hash < 0 {
		return Key{}, fmt.Errorf("notify: parse key %q: missing id", s)
	}
	id, err := strconv.ParseUint(s[hash+1:at], 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("notify: parse key %q: %w", s, err)
	}
	return Key{Source: s[:hash], ID: uint32(id), Channel: s[at+1:]}, nil
}

package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the store when no size is configured.
const DefaultCacheSize = 64

// Notification is the cached content of one notification.
type Notification struct {
	Title  string
	Text   string
	Posted time.Time
}

// Entry is one key/notification pair.
type Entry struct {
	Key          Key
	Notification Notification
}

// EventKind says what happened to an entry.
type EventKind int

const (
	EventPosted EventKind = iota
	EventRemoved
	EventEvicted
)

func (k EventKind) String() string {
	switch k {
	case EventPosted:
		return "posted"
	case EventRemoved:
		return "removed"
	case EventEvicted:
		return "evicted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to OnChange observers.
type Event struct {
	Kind EventKind
	Entry
}

// Store keeps the latest notification per key. Writes are last-write-wins.
// When full, the least recently posted entry is evicted. Safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	cache     *lru.Cache
	evicted   []Entry
	observers []func(Event)
}

// NewStore creates a store holding at most size entries.
func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	s := &Store{}
	cache, err := lru.NewWithEvict(size, func(key, value interface{}) {
		// Runs inside cache calls made with s.mu held.
		s.evicted = append(s.evicted, Entry{Key: key.(Key), Notification: value.(Notification)})
	})
	if err != nil {
		return nil, fmt.Errorf("notify: create store: %w", err)
	}
	s.cache = cache
	return s, nil
}

// OnChange registers fn to be called after every change. Observers run on
// the goroutine that made the change, after the store lock is released.
func (s *Store) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Upsert stores n under k, replacing any previous notification.
func (s *Store) Upsert(k Key, n Notification) {
	s.mu.Lock()
	s.evicted = nil
	s.cache.Add(k, n)
	events := make([]Event, 0, len(s.evicted)+1)
	for _, e := range s.evicted {
		events = append(events, Event{Kind: EventEvicted, Entry: e})
	}
	events = append(events, Event{Kind: EventPosted, Entry: Entry{Key: k, Notification: n}})
	s.evicted = nil
	observers := s.observers
	size := s.cache.Len()
	s.mu.Unlock()

	slog.Info("[NOTIFY] notification posted", "key", k, "title", n.Title, "cached", size)
	s.notify(observers, events)
}

// Remove deletes k. It reports whether the key was present.
func (s *Store) Remove(k Key) bool {
	s.mu.Lock()
	v, ok := s.cache.Peek(k)
	if ok {
		s.cache.Remove(k)
	}
	// The evict callback also fires on Remove; that is not an eviction.
	s.evicted = nil
	observers := s.observers
	s.mu.Unlock()

	if !ok {
		return false
	}
	slog.Debug("[NOTIFY] notification removed", "key", k)
	s.notify(observers, []Event{{Kind: EventRemoved, Entry: Entry{Key: k, Notification: v.(Notification)}}})
	return true
}

// RemoveID deletes every entry whose key carries id, and returns how many
// were removed. Close events only carry the notification id.
func (s *Store) RemoveID(id uint32) int {
	var keys []Key
	s.mu.Lock()
	for _, k := range s.cache.Keys() {
		if key := k.(Key); key.ID == id {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, k := range keys {
		if s.Remove(k) {
			n++
		}
	}
	return n
}

// Get returns the notification stored under k without changing its age.
func (s *Store) Get(k Key) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Peek(k)
	if !ok {
		return Notification{}, false
	}
	return v.(Notification), true
}

// Latest returns the most recently posted entry.
func (s *Store) Latest() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.cache.Keys()
	if len(keys) == 0 {
		return Entry{}, false
	}
	k := keys[len(keys)-1].(Key)
	v, _ := s.cache.Peek(k)
	return Entry{Key: k, Notification: v.(Notification)}, true
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Snapshot returns all entries, oldest first.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.cache.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: k.(Key), Notification: v.(Notification)})
	}
	return out
}

// LatestText encodes the most recent notification as UTF-8 "title: text".
// It returns an empty slice when the store is empty.
func (s *Store) LatestText(time.Time) []byte {
	e, ok := s.Latest()
	if !ok {
		return []byte{}
	}
	if e.Notification.Title == "" {
		return []byte(e.Notification.Text)
	}
	return []byte(e.Notification.Title + ": " + e.Notification.Text)
}

func (s *Store) notify(observers []func(Event), events []Event) {
	for _, fn := range observers {
		for _, e := range events {
			fn(e)
		}
	}
}

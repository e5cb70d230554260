package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	lru "github.com/hashicorp/golang-lru"
)

const (
	notificationsIface = "org.freedesktop.Notifications"

	// notifyMinArgs is app_name through hints.
	notifyMinArgs = 7

	// pendingCalls bounds Notify calls waiting for their method return.
	pendingCalls = 256
)

var monitorRules = []string{
	"type='method_call',interface='" + notificationsIface + "',member='Notify'",
	"type='method_call',interface='" + notificationsIface + "',member='CloseNotification'",
	"type='signal',interface='" + notificationsIface + "',member='NotificationClosed'",
	"type='method_return'",
}

// notifyCall is a decoded org.freedesktop.Notifications.Notify call.
type notifyCall struct {
	app       string
	replaceID uint32
	summary   string
	body      string
	category  string
}

// parseNotifyBody decodes the Notify arguments
// (app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout).
// expire_timeout is not used, so only the first notifyMinArgs are required.
func parseNotifyBody(body []interface{}) (notifyCall, error) {
	if len(body) < notifyMinArgs {
		return notifyCall{}, fmt.Errorf("notify: Notify call has %d args, want at least %d", len(body), notifyMinArgs)
	}
	var n notifyCall
	var ok bool
	if n.app, ok = body[0].(string); !ok {
		return notifyCall{}, fmt.Errorf("notify: Notify app_name has type %T", body[0])
	}
	if n.replaceID, ok = body[1].(uint32); !ok {
		return notifyCall{}, fmt.Errorf("notify: Notify replaces_id has type %T", body[1])
	}
	if n.summary, ok = body[3].(string); !ok {
		return notifyCall{}, fmt.Errorf("notify: Notify summary has type %T", body[3])
	}
	if n.body, ok = body[4].(string); !ok {
		return notifyCall{}, fmt.Errorf("notify: Notify body has type %T", body[4])
	}
	if hints, ok := body[6].(map[string]dbus.Variant); ok {
		if v, ok := hints["category"]; ok {
			n.category, _ = v.Value().(string)
		}
	}
	return n, nil
}

// key builds the store key once the server has assigned id.
func (n notifyCall) key(id uint32) Key {
	channel := n.category
	if channel == "" {
		channel = DefaultChannel
	}
	return Key{Source: n.app, ID: id, Channel: channel}
}

type callRef struct {
	sender string
	serial uint32
}

// tracker pairs Notify calls with the method returns that carry the id.
type tracker struct {
	pending *lru.Cache
}

func newTracker() *tracker {
	pending, _ := lru.New(pendingCalls)
	return &tracker{pending: pending}
}

func (t *tracker) call(sender string, serial uint32, n notifyCall) {
	t.pending.Add(callRef{sender, serial}, n)
}

// reply resolves a method return. ok is false for returns of other calls.
func (t *tracker) reply(destination string, replySerial uint32, body []interface{}) (Key, notifyCall, bool) {
	ref := callRef{destination, replySerial}
	v, ok := t.pending.Peek(ref)
	if !ok {
		return Key{}, notifyCall{}, false
	}
	t.pending.Remove(ref)
	n := v.(notifyCall)
	if len(body) < 1 {
		return Key{}, notifyCall{}, false
	}
	id, ok := body[0].(uint32)
	if !ok {
		return Key{}, notifyCall{}, false
	}
	return n.key(id), n, true
}

// closedID extracts the id from a CloseNotification call or a
// NotificationClosed signal.
func closedID(body []interface{}) (uint32, bool) {
	if len(body) < 1 {
		return 0, false
	}
	id, ok := body[0].(uint32)
	return id, ok
}

// Capture watches the session bus for desktop notifications and mirrors
// them into a Store.
type Capture struct {
	store   *Store
	tracker *tracker
	clock   func() time.Time
}

// NewCapture creates a capture feeding store.
func NewCapture(store *Store) *Capture {
	return &Capture{store: store, tracker: newTracker(), clock: time.Now}
}

// Run becomes a bus monitor on the session bus and processes notification
// traffic until ctx is done.
func (c *Capture) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("notify: connect session bus: %w", err)
	}
	defer conn.Close()

	call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, monitorRules, uint32(0))
	if call.Err != nil {
		return fmt.Errorf("notify: become monitor: %w", call.Err)
	}

	messages := make(chan *dbus.Message, 64)
	conn.Eavesdrop(messages)
	slog.Info("[NOTIFY] capturing desktop notifications")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("notify: session bus closed")
			}
			c.handle(msg)
		}
	}
}

func (c *Capture) handle(msg *dbus.Message) {
	switch msg.Type {
	case dbus.TypeMethodCall:
		if header(msg, dbus.FieldInterface) != notificationsIface {
			return
		}
		switch header(msg, dbus.FieldMember) {
		case "Notify":
			n, err := parseNotifyBody(msg.Body)
			if err != nil {
				slog.Debug("[NOTIFY] ignoring malformed Notify call", "error", err)
				return
			}
			c.tracker.call(header(msg, dbus.FieldSender), msg.Serial(), n)
		case "CloseNotification":
			if id, ok := closedID(msg.Body); ok {
				c.store.RemoveID(id)
			}
		}
	case dbus.TypeMethodReply:
		serial, ok := msg.Headers[dbus.FieldReplySerial].Value().(uint32)
		if !ok {
			return
		}
		k, n, ok := c.tracker.reply(header(msg, dbus.FieldDestination), serial, msg.Body)
		if !ok {
			return
		}
		c.store.Upsert(k, Notification{Title: n.summary, Text: n.body, Posted: c.clock()})
	case dbus.TypeSignal:
		if header(msg, dbus.FieldInterface) == notificationsIface && header(msg, dbus.FieldMember) == "NotificationClosed" {
			if id, ok := closedID(msg.Body); ok {
				c.store.RemoveID(id)
			}
		}
	}
}

func header(msg *dbus.Message, field dbus.HeaderField) string {
	s, _ := msg.Headers[field].Value().(string)
	return s
}

package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/engine"
)

// wakeTimeout bounds one gateway wake request.
const wakeTimeout = 5 * time.Second

// DeviceLister is the slice of the device store the notifier needs.
type DeviceLister interface {
	List(ctx context.Context) ([]models.PairedDevice, error)
}

// Notifier watches engine events and asks the gateway to wake paired
// companion apps on ringing and missed calls. Delivery is best effort;
// a failed wake is logged and dropped.
type Notifier struct {
	client  *Client
	devices DeviceLister
	logger  *slog.Logger
}

// NewNotifier creates a notifier over the given gateway client and
// device store.
func NewNotifier(client *Client, devices DeviceLister) *Notifier {
	return &Notifier{
		client:  client,
		devices: devices,
		logger:  slog.Default().With("component", "push"),
	}
}

// Run consumes engine events until the channel closes or the context
// ends. Call it on its own goroutine.
func (n *Notifier) Run(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev engine.Event) {
	var event string
	switch {
	case ev.Kind == engine.EventRinging:
		event = "ringing"
	case ev.Kind == engine.EventDisconnect && ev.Missed:
		event = "missed"
	default:
		return
	}

	if !n.client.Configured() {
		return
	}

	devices, err := n.devices.List(ctx)
	if err != nil {
		n.logger.Warn("listing paired devices for wake", "error", err)
		return
	}

	for _, dev := range devices {
		platform := pushPlatform(dev.Platform)
		if dev.PushToken == "" || platform == "" {
			continue
		}
		n.wake(ctx, dev, platform, event, ev)
	}
}

func (n *Notifier) wake(ctx context.Context, dev models.PairedDevice, platform, event string, ev engine.Event) {
	wakeCtx, cancel := context.WithTimeout(ctx, wakeTimeout)
	defer cancel()

	delivered, err := n.client.Wake(wakeCtx, WakeRequest{
		PushToken:    dev.PushToken,
		PushPlatform: platform,
		Event:        event,
		CallerID:     ev.Number,
		CallerName:   ev.Name,
		CallID:       ev.ConnectionID,
	})
	if err != nil {
		n.logger.Warn("wake push failed",
			"device", dev.Name,
			"event", event,
			"error", err,
		)
		return
	}
	if !delivered {
		n.logger.Debug("wake push not delivered", "device", dev.Name, "event", event)
	}
}

// pushPlatform maps a paired device's platform to the gateway's push
// transport. Web devices have no wake channel.
func pushPlatform(platform string) string {
	switch platform {
	case "android":
		return "fcm"
	case "ios":
		return "apns"
	default:
		return ""
	}
}

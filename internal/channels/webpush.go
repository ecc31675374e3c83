package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushSender delivers notifications through the Web Push protocol.
// The recipient address is a JSON-serialized browser push subscription
// (endpoint plus p256dh/auth keys).
type WebPushSender struct {
	subscriber      string // mailto: contact passed to push services
	vapidPublicKey  string
	vapidPrivateKey string
}

// NewWebPushSender creates a WebPushSender with the given VAPID keys.
func NewWebPushSender(subscriber, vapidPublicKey, vapidPrivateKey string) *WebPushSender {
	return &WebPushSender{
		subscriber:      subscriber,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// Send pushes the rendered text to the subscription encoded in address.
func (w *WebPushSender) Send(ctx context.Context, address, renderedText string) error {
	sub, err := parseSubscription(address)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, []byte(renderedText), sub, &webpush.Options{
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.vapidPublicKey,
		VAPIDPrivateKey: w.vapidPrivateKey,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("sending web push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push service returned %s", resp.Status)
	}
	return nil
}

// parseSubscription decodes a JSON push subscription and checks the
// fields web push cannot work without.
func parseSubscription(address string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(address), &sub); err != nil {
		return nil, fmt.Errorf("decoding push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("push subscription missing endpoint")
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("push subscription missing encryption keys")
	}
	return &sub, nil
}

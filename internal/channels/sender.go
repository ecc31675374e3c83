// Package channels holds the delivery-channel senders the notification
// worker dispatches to. One Sender per delivery_channel value; channels
// with no registered sender fail permanently at the worker.
package channels

import "context"

// Sender delivers one rendered notification to one address. The address
// format is channel-specific (a webhook URL, a serialized push
// subscription, a chat identifier).
type Sender interface {
	Send(ctx context.Context, address, renderedText string) error
}

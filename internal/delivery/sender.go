package delivery

import (
	"context"
	"fmt"
)

// Channel identifies where a conversation lives.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelJivo     Channel = "jivo"
)

// Sender pushes a reply back to a user on one channel. Failures are logged
// by implementations and reported to the caller; the pipeline does not retry
// deliveries.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Registry routes outbound replies to the channel-specific sender.
type Registry struct {
	senders map[Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[Channel]Sender)}
}

func (r *Registry) Register(channel Channel, sender Sender) {
	r.senders[channel] = sender
}

func (r *Registry) Send(ctx context.Context, channel Channel, userID, text string) error {
	sender, ok := r.senders[channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender.Send(ctx, userID, text)
}

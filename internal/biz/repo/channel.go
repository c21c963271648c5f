package repo

import "context"

// ChannelRepo is the outbound side of the chat platform: typing indicators
// while a buffer is being processed and text replies back to the sender.
type ChannelRepo interface {
	SendTyping(ctx context.Context, conversationID string) error
	SendText(ctx context.Context, conversationID string, text string) error
}

package domain

import "time"

// ContentType classifies a buffered message payload
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentAudio ContentType = "audio"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// BufferedMessage is one inbound message attached to a buffer session.
// (buffer_id, external_message_id) is unique so replayed webhook deliveries
// never duplicate a message within a buffer.
type BufferedMessage struct {
	ID                int64
	BufferID          string
	ExternalMessageID string
	ContentType       ContentType
	Payload           string
	SenderName        string
	SenderPhone       string
	ReceivedAt        time.Time
}

// InboundEvent is the normalized webhook event at the ingestion boundary.
type InboundEvent struct {
	ConversationID    string
	ExternalMessageID string
	ContentType       ContentType
	Payload           string
	SenderName        string
	SenderPhone       string
	OwnerID           *string
	ReceivedAt        time.Time
}

// Message builds the buffered message for this event.
func (e *InboundEvent) Message(bufferID string) *BufferedMessage {
	ct := e.ContentType
	if ct == "" {
		ct = ContentText
	}
	return &BufferedMessage{
		BufferID:          bufferID,
		ExternalMessageID: e.ExternalMessageID,
		ContentType:       ct,
		Payload:           e.Payload,
		SenderName:        e.SenderName,
		SenderPhone:       e.SenderPhone,
		ReceivedAt:        e.ReceivedAt,
	}
}

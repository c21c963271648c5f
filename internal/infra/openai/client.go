package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
)

const (
	requestTimeout = 60 * time.Second

	systemPrompt = `You are a helpful WhatsApp assistant. The user may have sent
several short messages in a burst; treat them as a single coherent request and
reply once, concisely, in the user's language.`
)

// Processor turns an aggregated buffer into one chat completion and relays
// the reply back through the outbound channel.
type Processor struct {
	client  *openai.Client
	model   string
	channel repo.ChannelRepo
	flags   *usecase.FeatureFlags
	log     *slog.Logger
}

// NewProcessor creates a chat-completion processor. An empty model falls
// back to gpt-4o-mini.
func NewProcessor(apiKey, model string, channel repo.ChannelRepo, flags *usecase.FeatureFlags, log *slog.Logger) *Processor {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Processor{
		client:  openai.NewClient(apiKey),
		model:   model,
		channel: channel,
		flags:   flags,
		log:     log.With("component", "openai"),
	}
}

// ProcessAggregated renders the buffered burst into a single user turn,
// requests a completion, and sends the reply to the conversation.
func (p *Processor) ProcessAggregated(ctx context.Context, agg *domain.AggregatedConversation) error {
	if len(agg.Messages) == 0 {
		return fmt.Errorf("buffer %s has no messages", agg.BufferID)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: p.renderTranscript(agg.Messages)},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion for buffer %s: %w", agg.BufferID, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("chat completion for buffer %s: empty choices", agg.BufferID)
	}

	reply := resp.Choices[0].Message.Content
	if p.flags.IsEnabled(usecase.FlagResponsePostprocess) {
		reply = postprocess(reply)
	}
	if reply == "" {
		p.log.Warn("empty reply, nothing to send", "buffer_id", agg.BufferID)
		return nil
	}

	if err := p.channel.SendText(ctx, agg.ConversationID, reply); err != nil {
		return fmt.Errorf("send reply for buffer %s: %w", agg.BufferID, err)
	}

	p.log.Info("reply sent",
		"buffer_id", agg.BufferID,
		"conversation_id", agg.ConversationID,
		"messages", len(agg.Messages))
	return nil
}

// renderTranscript joins the burst in receipt order. Enhanced processing
// annotates each line with sender and timestamp so the model can reason
// about multi-party or slow bursts.
func (p *Processor) renderTranscript(messages []*domain.BufferedMessage) string {
	enhanced := p.flags.IsEnabled(usecase.FlagEnhancedProcessing)

	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if enhanced {
			name := m.SenderName
			if name == "" {
				name = "user"
			}
			b.WriteString(fmt.Sprintf("[%s %s] ", m.ReceivedAt.Format("15:04:05"), name))
		}
		b.WriteString(renderPayload(m))
	}
	return b.String()
}

func renderPayload(m *domain.BufferedMessage) string {
	switch m.ContentType {
	case domain.ContentAudio:
		return "[voice message]"
	case domain.ContentImage:
		if m.Payload != "" {
			return fmt.Sprintf("[image: %s]", m.Payload)
		}
		return "[image]"
	case domain.ContentFile:
		if m.Payload != "" {
			return fmt.Sprintf("[file: %s]", m.Payload)
		}
		return "[file]"
	default:
		return m.Payload
	}
}

// postprocess normalizes a model reply for WhatsApp delivery: strips
// surrounding whitespace and markdown headings that render poorly in chat.
func postprocess(reply string) string {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(strings.TrimPrefix(line, "### "), "## ")
	}
	return strings.Join(lines, "\n")
}

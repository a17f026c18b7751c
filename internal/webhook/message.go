package webhook

import (
	"fmt"

	"github.com/robalyx/jointracker/internal/report"
)

// Message is the body of a Slack incoming webhook request.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Block is a single Slack layout block.
type Block struct {
	Type     string  `json:"type"`
	Text     *Text   `json:"text,omitempty"`
	Elements []*Text `json:"elements,omitempty"`
	Fields   []*Text `json:"fields,omitempty"`
}

// Text is a Slack text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewMessage lays out the payload as header, date context, divider and a field section.
func NewMessage(payload *report.Payload) *Message {
	fields := make([]*Text, 0, len(payload.Fields))
	for _, field := range payload.Fields {
		fields = append(fields, &Text{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*%s*\n%s", field.Name, field.Value),
		})
	}

	blocks := []Block{
		{Type: "header", Text: &Text{Type: "plain_text", Text: payload.Title}},
		{Type: "context", Elements: []*Text{{Type: "mrkdwn", Text: payload.Description}}},
		{Type: "divider"},
	}

	// Slack rejects sections without fields
	if len(fields) > 0 {
		blocks = append(blocks, Block{Type: "section", Fields: fields})
	}

	if payload.Footer != "" {
		blocks = append(blocks, Block{Type: "context", Elements: []*Text{{Type: "mrkdwn", Text: payload.Footer}}})
	}

	return &Message{
		Text:   fmt.Sprintf("%s: %s", payload.Title, payload.Description),
		Blocks: blocks,
	}
}

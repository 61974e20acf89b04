package messaging

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

// Body limits per channel (in characters).
const (
	MaxSMSBody      = 1000
	MaxWhatsAppBody = 4096
	MaxEmailBody    = 10000
)

// Message is one outbound message produced while processing a row.
type Message struct {
	Channel domain.DeliveryChannel
	To      string
	Subject string
	Body    string
	OwnerID string
	// Reference ties the message back to the row that produced it.
	Reference string
}

func (m Message) Validate() error {
	if m.Channel == domain.ChannelNone || !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, m.Channel)
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}

	limit := MaxEmailBody
	switch m.Channel {
	case domain.ChannelSMS:
		limit = MaxSMSBody
	case domain.ChannelWhatsApp:
		limit = MaxWhatsAppBody
	}
	if n := utf8.RuneCountInString(m.Body); n > limit {
		return fmt.Errorf("%w: body has %d characters, %s allows %d", domain.ErrValidation, n, m.Channel, limit)
	}
	return nil
}

// Receipt is what the gateway returns for an accepted message.
type Receipt struct {
	StatusCode int
	MessageID  string
}

// Sender is the outbound messaging gateway port.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

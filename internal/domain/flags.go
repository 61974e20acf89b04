package domain

import "time"

// MessagingFlags is an immutable snapshot of which outbound channels are enabled.
type MessagingFlags struct {
	SMS      bool
	WhatsApp bool
	Email    bool
	LoadedAt time.Time
}

// Enabled reports whether messages may be sent on the given channel.
// ChannelNone is always enabled since nothing is sent.
func (f MessagingFlags) Enabled(ch DeliveryChannel) bool {
	switch ch {
	case ChannelSMS:
		return f.SMS
	case ChannelWhatsApp:
		return f.WhatsApp
	case ChannelEmail:
		return f.Email
	case ChannelNone:
		return true
	}
	return false
}

package domain

import (
	"fmt"
	"strings"
)

// DeliveryChannel is how a row's recipient is contacted.
type DeliveryChannel string

const (
	ChannelSMS      DeliveryChannel = "SMS"
	ChannelWhatsApp DeliveryChannel = "WHATSAPP"
	ChannelEmail    DeliveryChannel = "EMAIL"
	ChannelNone     DeliveryChannel = "NONE"
)

func (c DeliveryChannel) String() string { return string(c) }

func (c DeliveryChannel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelNone:
		return true
	}
	return false
}

// UsesPhone reports whether the channel addresses recipients by phone number.
func (c DeliveryChannel) UsesPhone() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

func ParseDeliveryChannelFromString(s string) (DeliveryChannel, error) {
	if strings.TrimSpace(s) == "" {
		return ChannelNone, nil
	}
	ch := DeliveryChannel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery channel %q", ErrValidation, s)
	}
	return ch, nil
}

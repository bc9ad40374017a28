package domain

import dErrors "sign-gateway/pkg/domainerrors"

// ChannelType is the out-of-band verification channel a challenge travels on.
type ChannelType string

const (
	ChannelSMS       ChannelType = "SMS"
	ChannelPush      ChannelType = "PUSH"
	ChannelVoice     ChannelType = "VOICE"
	ChannelBiometric ChannelType = "BIOMETRIC"
)

// validChannels is the single source of truth for supported channels.
var validChannels = map[ChannelType]bool{
	ChannelSMS:       true,
	ChannelPush:      true,
	ChannelVoice:     true,
	ChannelBiometric: true,
}

// ParseChannelType constructs a ChannelType from external input.
func ParseChannelType(s string) (ChannelType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "channel cannot be empty")
	}
	c := ChannelType(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported channel")
	}
	return c, nil
}

// IsValid checks if the channel is one of the supported enum values.
func (c ChannelType) IsValid() bool {
	return validChannels[c]
}

func (c ChannelType) String() string {
	return string(c)
}

// Channels enumerates all supported channels in stable order.
func Channels() []ChannelType {
	return []ChannelType{ChannelSMS, ChannelPush, ChannelVoice, ChannelBiometric}
}

// ProviderType identifies the concrete delivery provider behind a channel.
// One provider per channel; the registry is populated at startup.
type ProviderType string

const (
	ProviderSMS       ProviderType = "SMS_PROVIDER"
	ProviderPush      ProviderType = "PUSH_PROVIDER"
	ProviderVoice     ProviderType = "VOICE_PROVIDER"
	ProviderBiometric ProviderType = "BIOMETRIC_PROVIDER"
)

// Provider returns the provider that serves this channel.
func (c ChannelType) Provider() ProviderType {
	switch c {
	case ChannelSMS:
		return ProviderSMS
	case ChannelPush:
		return ProviderPush
	case ChannelVoice:
		return ProviderVoice
	case ChannelBiometric:
		return ProviderBiometric
	}
	return ""
}

func (p ProviderType) String() string {
	return string(p)
}

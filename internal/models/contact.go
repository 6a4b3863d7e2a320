package models

import (
	"fmt"
	"strings"
)

// Channel is a communication channel a contact can be reached on.
type Channel string

const (
	ChannelVoice   Channel = "voice"
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// ParseChannel normalizes a channel name. "call" and "phone" map to voice.
func ParseChannel(s string) Channel {
	switch c := strings.ToLower(strings.TrimSpace(s)); c {
	case "call", "phone", "voice":
		return ChannelVoice
	default:
		return Channel(c)
	}
}

// Contact is a ranked recipient for alerts about one subject entity.
// Rank 0 is the primary contact; higher ranks are lower priority.
type Contact struct {
	ID           string             `json:"id" yaml:"id"`
	SubjectID    string             `json:"subject_id" yaml:"subject_id"`
	Name         string             `json:"name,omitempty" yaml:"name"`
	Relationship string             `json:"relationship,omitempty" yaml:"relationship"`
	Rank         int                `json:"rank" yaml:"rank"`
	Channels     []Channel          `json:"channels" yaml:"channels"`
	Address      map[Channel]string `json:"address,omitempty" yaml:"address"`
	Active       bool               `json:"active" yaml:"active"`
}

// Validate checks the contact for required fields.
func (c *Contact) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("contact id is required")
	}
	if c.SubjectID == "" {
		return fmt.Errorf("subject id is required for contact %q", c.ID)
	}
	if c.Rank < 0 {
		return fmt.Errorf("rank must not be negative for contact %q", c.ID)
	}
	return nil
}

// Supports reports whether the contact can be reached on ch.
func (c Contact) Supports(ch Channel) bool {
	for _, v := range c.Channels {
		if v == ch {
			return true
		}
	}
	return false
}

// AddressFor returns the address for a channel, if any.
func (c Contact) AddressFor(ch Channel) string {
	if c.Address == nil {
		return ""
	}
	return c.Address[ch]
}

// Clone returns a deep copy of the contact.
func (c Contact) Clone() Contact {
	out := c
	if c.Channels != nil {
		out.Channels = append([]Channel(nil), c.Channels...)
	}
	if c.Address != nil {
		out.Address = make(map[Channel]string, len(c.Address))
		for k, v := range c.Address {
			out.Address[k] = v
		}
	}
	return out
}

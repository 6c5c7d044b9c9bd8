package server

import "github.com/gofrs/uuid/v5"

// Audience identifies a notification destination: a channel broadcast with
// optional player highlights, or direct messages when Direct is set.
type Audience struct {
	ChannelID string
	PlayerIDs []string
	RoleID    string
	Direct    bool
}

// Messenger is the outbound chat-platform contract. Notify is
// fire-and-forget and must never block a state transition; Prompt presents
// an interactive message whose responses come back through the prompt
// handler registered under token.
type Messenger interface {
	Notify(audience Audience, text string)
	Prompt(audience Audience, token uuid.UUID, text string, options []string)
	Retract(token uuid.UUID)
}

// IdentityProvider resolves opaque participant references to permission
// information. The core only ever asks yes/no questions of it.
type IdentityProvider interface {
	IsModerator(channelID, playerID string) bool
}

// NopMessenger drops everything; used in tests and headless runs.
type NopMessenger struct{}

func (NopMessenger) Notify(Audience, string)                       {}
func (NopMessenger) Prompt(Audience, uuid.UUID, string, []string)  {}
func (NopMessenger) Retract(uuid.UUID)                             {}

// NopIdentity denies all privileged operations.
type NopIdentity struct{}

func (NopIdentity) IsModerator(string, string) bool { return false }

package model

import "time"

// DestinationKind tells one-to-one chats apart from group-like chats.
type DestinationKind string

const (
	DestinationPrivate DestinationKind = "private"
	DestinationGroup   DestinationKind = "group"
)

// Destination is an external chat the bot can post into.
type Destination struct {
	ChatID    int64           `json:"chat_id"`
	Kind      DestinationKind `json:"kind"`
	Title     string          `json:"title,omitempty"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeliveryLink associates a KOL with a destination.
//
// ExternalUserID is set only once the KOL has contacted the bot (or has been
// seen speaking in a group); zero means unknown.
type DeliveryLink struct {
	KOLID          int64           `json:"kol_id"`
	ChatID         int64           `json:"chat_id"`
	Kind           DestinationKind `json:"kind"`
	ExternalUserID int64           `json:"external_user_id,omitempty"`
	Active         bool            `json:"active"`
}

// Reachable reports whether a direct message can be attempted through this link.
func (l DeliveryLink) Reachable() bool { return l.ExternalUserID != 0 }

// Private reports whether the link is a one-to-one chat.
func (l DeliveryLink) Private() bool { return l.Kind == DestinationPrivate }

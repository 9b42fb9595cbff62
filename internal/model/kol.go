package model

import "strings"

// KOL is a content-producing social account targeted by campaigns.
type KOL struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"` // social handle, without '@'

	// TelegramUsername is used to match incoming chat activity and to mention
	// the KOL when a message falls back to a group destination.
	TelegramUsername string `json:"telegram_username,omitempty"`
	OrganizationID   int64  `json:"organization_id"`
}

// Mention returns the "@name" used to address the KOL inside a group chat.
func (k KOL) Mention() string {
	name := strings.TrimPrefix(strings.TrimSpace(k.TelegramUsername), "@")
	if name == "" {
		name = strings.TrimPrefix(strings.TrimSpace(k.Handle), "@")
	}
	if name == "" {
		return ""
	}
	return "@" + name
}

// ProviderCredential is one organization's key for an upstream metrics provider.
type ProviderCredential struct {
	OrganizationID int64
	Provider       string
	APIKey         string
}

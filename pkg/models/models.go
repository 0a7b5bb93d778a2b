// Package models holds the daemon payload shapes the view process decodes.
// The transport core treats all payloads as opaque; only the derived-data
// layer and UI consumers use these types.
package models

import "time"

type Contact struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	PublicKey   []byte    `json:"public_key"`
	AddedAt     time.Time `json:"added_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type Message struct {
	ID             string    `json:"id"`
	ContactID      string    `json:"contact_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        []byte    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	ContentType    string    `json:"content_type"`
}

type NetworkStatus struct {
	Status        string    `json:"status"`
	PeerCount     int       `json:"peer_count"`
	PeerAddrs     []string  `json:"peer_addrs,omitempty"`
	HealthSummary string    `json:"health_summary,omitempty"`
	LastSync      time.Time `json:"last_sync"`
}

type UnreadSummary struct {
	Total          int            `json:"total"`
	ByConversation map[string]int `json:"by_conversation,omitempty"`
}

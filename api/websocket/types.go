package websocket

import (
	"encoding/json"

	"github.com/0xmhha/staking-indexer/events"
)

// SubscriptionType represents the type of subscription
type SubscriptionType string

const (
	// SubscribeCheckpoint streams checkpoint advances of both chains
	SubscribeCheckpoint SubscriptionType = SubscriptionType(events.EventTypeCheckpoint)

	// SubscribeStake streams stake transitions
	SubscribeStake SubscriptionType = SubscriptionType(events.EventTypeStake)

	// SubscribeClaim streams claim transitions
	SubscribeClaim SubscriptionType = SubscriptionType(events.EventTypeClaim)
)

func (t SubscriptionType) valid() bool {
	switch t {
	case SubscribeCheckpoint, SubscribeStake, SubscribeClaim:
		return true
	}
	return false
}

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest represents a subscription request. Chains and
// Addresses narrow the stream; empty means everything.
type SubscribeRequest struct {
	Type      SubscriptionType `json:"type"`
	Chains    []string         `json:"chains,omitempty"`
	Addresses []string         `json:"addresses,omitempty"`
}

// UnsubscribeRequest represents an unsubscribe request
type UnsubscribeRequest struct {
	Type SubscriptionType `json:"type"`
}

// Event represents a subscription event
type Event struct {
	Type SubscriptionType `json:"type"`
	Data interface{}      `json:"data"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage represents a success message
type SuccessMessage struct {
	Message string `json:"message"`
}

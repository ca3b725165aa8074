package events

import (
	"time"
)

// EventType represents the type of indexer event
type EventType string

const (
	// EventTypeCheckpoint is published after a checkpoint height advances
	EventTypeCheckpoint EventType = "checkpoint"

	// EventTypeStake is published after a stake row is created or updated
	EventTypeStake EventType = "stake"

	// EventTypeClaim is published after a claim row is created or updated
	EventTypeClaim EventType = "claim"
)

// Chain names used in events
const (
	ChainEthereum  = "ethereum"
	ChainChainflip = "chainflip"
)

// Stake and claim transitions
const (
	ActionInitiated  = "initiated"
	ActionCompleted  = "completed"
	ActionRegistered = "registered"
	ActionExpired    = "expired"
)

// Event is the base interface for all indexer events
type Event interface {
	// Type returns the event type
	Type() EventType

	// Timestamp returns when the event was created
	Timestamp() time.Time
}

// CheckpointEvent reports a new checkpoint height for one chain
type CheckpointEvent struct {
	Chain  string `json:"chain"`
	Height uint64 `json:"height"`

	// Live is false while the indexer is catching up
	Live bool `json:"live"`

	CreatedAt time.Time `json:"timestamp"`
}

// Type implements Event interface
func (e *CheckpointEvent) Type() EventType {
	return EventTypeCheckpoint
}

// Timestamp implements Event interface
func (e *CheckpointEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// StakeEvent reports a stake transition observed on one chain
type StakeEvent struct {
	Hash    string `json:"hash"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Chain   string `json:"chain"`
	Action  string `json:"action"`
	Height  uint64 `json:"height"`

	CreatedAt time.Time `json:"timestamp"`
}

// Type implements Event interface
func (e *StakeEvent) Type() EventType {
	return EventTypeStake
}

// Timestamp implements Event interface
func (e *StakeEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// ClaimEvent reports a claim transition observed on one chain
type ClaimEvent struct {
	MsgHash string `json:"msgHash"`
	Node    string `json:"node"`
	Chain   string `json:"chain"`
	Action  string `json:"action"`
	Height  uint64 `json:"height"`

	CreatedAt time.Time `json:"timestamp"`
}

// Type implements Event interface
func (e *ClaimEvent) Type() EventType {
	return EventTypeClaim
}

// Timestamp implements Event interface
func (e *ClaimEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// NewCheckpointEvent creates a CheckpointEvent stamped now
func NewCheckpointEvent(chain string, height uint64, live bool) *CheckpointEvent {
	return &CheckpointEvent{
		Chain:     chain,
		Height:    height,
		Live:      live,
		CreatedAt: time.Now(),
	}
}

// NewStakeEvent creates a StakeEvent stamped now
func NewStakeEvent(chain, action, hash, address, amount string, height uint64) *StakeEvent {
	return &StakeEvent{
		Hash:      hash,
		Address:   address,
		Amount:    amount,
		Chain:     chain,
		Action:    action,
		Height:    height,
		CreatedAt: time.Now(),
	}
}

// NewClaimEvent creates a ClaimEvent stamped now
func NewClaimEvent(chain, action, msgHash, node string, height uint64) *ClaimEvent {
	return &ClaimEvent{
		MsgHash:   msgHash,
		Node:      node,
		Chain:     chain,
		Action:    action,
		Height:    height,
		CreatedAt: time.Now(),
	}
}

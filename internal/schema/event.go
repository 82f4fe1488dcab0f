// Package schema defines the canonical action event schema for guild-sentinel.
// All monitored platform events are normalized to this structure before
// detection.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a monitored privileged action.
type ActionType string

const (
	ActionChannelDelete ActionType = "channel.delete"
	ActionChannelCreate ActionType = "channel.create"
	ActionRoleDelete    ActionType = "role.delete"
	ActionRoleCreate    ActionType = "role.create"
	ActionMemberBan     ActionType = "member.ban"
	ActionMemberKick    ActionType = "member.kick"
)

// ActionTypes lists every monitored action type.
var ActionTypes = []ActionType{
	ActionChannelDelete,
	ActionChannelCreate,
	ActionRoleDelete,
	ActionRoleCreate,
	ActionMemberBan,
	ActionMemberKick,
}

// IsValid checks if the action type is a monitored value.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionChannelDelete, ActionChannelCreate, ActionRoleDelete,
		ActionRoleCreate, ActionMemberBan, ActionMemberKick:
		return true
	}
	return false
}

// ActionEvent represents one privileged action attributed to an actor inside
// a tenant. Events are immutable and consumed exactly once by the detector.
type ActionEvent struct {
	// Required fields
	EventID   uuid.UUID  `json:"event_id" validate:"required"`
	ActorID   string     `json:"actor_id" validate:"required,max=64"`
	TenantID  string     `json:"tenant_id" validate:"required,max=64"`
	Action    ActionType `json:"action" validate:"required,action_type"`
	Timestamp time.Time  `json:"timestamp" validate:"required"`

	// Optional fields
	TargetName string `json:"target_name,omitempty" validate:"max=256"`
	ActorTag   string `json:"actor_tag,omitempty" validate:"max=128"`

	// Internal fields (set by system)
	SchemaVersion string    `json:"schema_version"`
	ReceivedAt    time.Time `json:"received_at"`
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"

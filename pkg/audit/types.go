package audit

import (
	"time"
)

// EventType names the mutation an event records
type EventType string

const (
	// Membership events
	EventMemberJoin       EventType = "member.join"
	EventMemberRoleChange EventType = "member.role_change"
	EventMemberKick       EventType = "member.kick"
	EventMemberBan        EventType = "member.ban"
	EventMemberUnban      EventType = "member.unban"
	EventMemberLeave      EventType = "member.leave"

	// Group events
	EventGroupCreate EventType = "group.create"
	EventGroupUpdate EventType = "group.update"
	EventGroupDelete EventType = "group.delete"

	// Channel events
	EventChannelCreate      EventType = "channel.create"
	EventChannelDelete      EventType = "channel.delete"
	EventChannelGuestInvite EventType = "channel.guest_invite"
	EventChannelGuestRemove EventType = "channel.guest_remove"
)

// ResourceType is the kind of object an event acts on
type ResourceType string

const (
	ResourceMember  ResourceType = "member"
	ResourceGroup   ResourceType = "group"
	ResourceChannel ResourceType = "channel"
)

// Event is a single audit entry
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	WorkspaceID int64     `json:"workspace_id"`
	EventType   EventType `json:"event_type"`

	// ActorUserID is the authenticated caller, unset for system changes
	ActorUserID *int64 `json:"actor_user_id,omitempty"`
	RequestID   string `json:"request_id,omitempty"`

	ResourceType ResourceType `json:"resource_type"`
	ResourceID   int64        `json:"resource_id"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter selects events of one workspace
type SearchFilter struct {
	WorkspaceID int64
	EventTypes  []EventType
	Since       *time.Time

	Limit  int
	Offset int
}

const (
	// DefaultSearchLimit applies when a filter sets no limit
	DefaultSearchLimit = 50
	// MaxSearchLimit caps a single page
	MaxSearchLimit = 500
)

func (f SearchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return f.Limit
	}
}

package access

import (
	"fmt"
	"strings"
	"time"
)

// Level is the operation level a member holds on a channel
type Level int

const (
	LevelNone   Level = 0
	LevelRead   Level = 1
	LevelWrite  Level = 2
	LevelManage Level = 3
)

var levelNames = map[Level]string{
	LevelNone:   "NONE",
	LevelRead:   "READ",
	LevelWrite:  "WRITE",
	LevelManage: "MANAGE",
}

// String returns the upper-case name of the level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Valid reports whether l is one of the four defined levels
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// Max returns the greater of two levels
func Max(a, b Level) Level {
	if a >= b {
		return a
	}
	return b
}

// Meets reports whether actual satisfies required
func Meets(actual, required Level) bool {
	return actual >= required
}

// ParseLevel parses a level name, ignoring case
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return LevelNone, nil
	case "READ":
		return LevelRead, nil
	case "WRITE":
		return LevelWrite, nil
	case "MANAGE":
		return LevelManage, nil
	}
	return LevelNone, fmt.Errorf("unknown permission level %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid permission level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Role is a member's role within one workspace
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleManager Role = "MANAGER"
	RoleMember  Role = "MEMBER"
	RoleGuest   Role = "GUEST"
)

// ParseRole parses a role name, ignoring case
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch role {
	case RoleOwner, RoleManager, RoleMember, RoleGuest:
		return role, nil
	}
	return "", fmt.Errorf("unknown workspace role %q", s)
}

// IsAdministrative reports whether the role holds MANAGE on every chat channel
func (r Role) IsAdministrative() bool {
	return r == RoleOwner || r == RoleManager
}

// ChannelType distinguishes ordinary chat channels from system channels
type ChannelType string

const (
	ChannelChat      ChannelType = "CHAT"
	ChannelAssistant ChannelType = "ASSISTANT"
)

// WorkspaceUser is a user's membership record in one workspace
type WorkspaceUser struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	UserID      int64      `json:"user_id"`
	Role        Role       `json:"role"`
	Name        string     `json:"name"`
	Banned      bool       `json:"banned"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the membership has not been soft-deleted
func (wu *WorkspaceUser) Live() bool {
	return wu.DeletedAt == nil
}

// Channel is a chat surface within a workspace
type Channel struct {
	ID          int64       `json:"id"`
	WorkspaceID int64       `json:"workspace_id"`
	CategoryID  *int64      `json:"category_id,omitempty"`
	Type        ChannelType `json:"type"`
	Name        string      `json:"name"`
	ZIndex      float64     `json:"z_index"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

// Category groups channels for display
type Category struct {
	ID          int64   `json:"id"`
	WorkspaceID int64   `json:"workspace_id"`
	Name        string  `json:"name"`
	ZIndex      float64 `json:"z_index"`
}

// GroupMembership links a workspace user to a live group
type GroupMembership struct {
	GroupID         int64 `json:"group_id"`
	WorkspaceUserID int64 `json:"workspace_user_id"`
}

// GroupChannelGrant is the level a group holds on a channel
type GroupChannelGrant struct {
	GroupID   int64 `json:"group_id"`
	ChannelID int64 `json:"channel_id"`
	Level     Level `json:"level"`
}

// ExplicitChannelGrant is a direct channel invitation for a guest
type ExplicitChannelGrant struct {
	WorkspaceUserID int64 `json:"workspace_user_id"`
	ChannelID       int64 `json:"channel_id"`
}

// PermissionMap maps channel IDs to the level held on them. Channels that are
// absent are NONE.
type PermissionMap map[int64]Level

// Get returns the level for a channel, NONE when absent
func (m PermissionMap) Get(channelID int64) Level {
	if m == nil {
		return LevelNone
	}
	return m[channelID]
}

// Clone returns an independent copy of the map
func (m PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

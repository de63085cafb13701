package access

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a failed read against the permission sources.
	// It must never be turned into an allow or deny.
	ErrSourceUnavailable = errors.New("permission source unavailable")

	// ErrMissingTarget is returned when a protected operation is invoked without
	// the workspace or channel identifier its requirement needs.
	ErrMissingTarget = errors.New("missing authorization target")
)

// SourceError wraps a reader failure with the query that failed
type SourceError struct {
	Query string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceUnavailable, e.Query, e.Err)
}

// Unwrap lets errors.Is match both ErrSourceUnavailable and the cause
func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

func sourceErr(query string, err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Query: query, Err: err}
}

// MembershipReader finds live workspace memberships
type MembershipReader interface {
	// FindWorkspaceUser returns the live membership, or nil when the user is
	// not a member or the membership is soft-deleted.
	FindWorkspaceUser(ctx context.Context, workspaceID, userID int64) (*WorkspaceUser, error)
}

// ChannelReader lists live channels
type ChannelReader interface {
	ListChannels(ctx context.Context, workspaceID int64, channelType ChannelType) ([]Channel, error)
}

// GroupReader lists live group memberships and their channel grants
type GroupReader interface {
	// ListGroupMemberships excludes groups that are soft-deleted
	ListGroupMemberships(ctx context.Context, workspaceUserID int64) ([]GroupMembership, error)
	// ListGroupChannelGrants excludes grants on soft-deleted channels
	ListGroupChannelGrants(ctx context.Context, groupID int64) ([]GroupChannelGrant, error)
}

// GrantReader lists explicit channel grants
type GrantReader interface {
	// ListExplicitGrants excludes grants on soft-deleted channels
	ListExplicitGrants(ctx context.Context, workspaceUserID int64) ([]ExplicitChannelGrant, error)
}

// Source is everything the calculator and gate read
type Source interface {
	MembershipReader
	ChannelReader
	GroupReader
	GrantReader
}

// DirectoryReader backs the listing helpers of the Resolver
type DirectoryReader interface {
	ListCategories(ctx context.Context, workspaceID int64) ([]Category, error)
	ListWorkspaceUsers(ctx context.Context, workspaceID int64) ([]WorkspaceUser, error)
	ListAllChannels(ctx context.Context, workspaceID int64) ([]Channel, error)
}

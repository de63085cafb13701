package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/audit"
	"github.com/prizmrun/prizm/pkg/observability"
	"github.com/prizmrun/prizm/pkg/storage/postgres"
)

// Invalidator drops cached permission maps after a committed mutation
type Invalidator interface {
	Invalidate(ctx context.Context, workspaceID, userID int64) error
	InvalidateWorkspace(ctx context.Context, workspaceID int64) error
}

// Service applies membership, group and channel mutations. Every mutation
// commits in one transaction and then invalidates the affected cache
// entries.
type Service struct {
	store       *postgres.Store
	invalidator Invalidator
	auditor     audit.Logger
	logger      *observability.Logger
}

// Option configures a Service
type Option func(*Service)

// WithAudit records every committed mutation. Member events carry the user
// ID as resource ID.
func WithAudit(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.auditor = logger
		}
	}
}

// NewService creates a membership service. A nil logger discards output.
func NewService(store *postgres.Store, invalidator Invalidator, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.ErrorLevel, nil)
	}
	s := &Service{
		store:       store,
		invalidator: invalidator,
		auditor:     audit.NoopLogger{},
		logger:      logger.Component("membership"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// JoinRequest adds a user to a workspace
type JoinRequest struct {
	WorkspaceID int64       `json:"workspace_id"`
	UserID      int64       `json:"user_id"`
	Name        string      `json:"name"`
	Role        access.Role `json:"role,omitempty"`
	// GroupIDs are joined by a MEMBER; unknown or deleted groups are skipped
	GroupIDs []int64 `json:"group_ids,omitempty"`
	// ChannelID is the channel a GUEST is invited to
	ChannelID *int64 `json:"channel_id,omitempty"`
}

// GroupUpdate replaces the name, members and channel grants of a group
type GroupUpdate struct {
	Name             *string                    `json:"name,omitempty"`
	WorkspaceUserIDs []int64                    `json:"workspace_user_ids"`
	Channels         []access.GroupChannelGrant `json:"channels"`
}

// NewChannel describes a channel to create at the end of its category
type NewChannel struct {
	CategoryID int64              `json:"category_id"`
	Name       string             `json:"name"`
	Type       access.ChannelType `json:"type,omitempty"`
}

// Join adds a user to a workspace. The role defaults to MEMBER.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*access.WorkspaceUser, error) {
	role := req.Role
	if role == "" {
		role = access.RoleMember
	}
	if _, err := access.ParseRole(string(role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var id int64
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		latest, err := tx.FindLatestWorkspaceUser(ctx, req.WorkspaceID, req.UserID)
		switch {
		case err == nil && latest.Banned:
			return ErrBanned
		case err == nil && latest.Live():
			return ErrAlreadyMember
		case err != nil && !isNotFound(err):
			return err
		}

		id, err = tx.AddWorkspaceUser(ctx, access.WorkspaceUser{
			WorkspaceID: req.WorkspaceID,
			UserID:      req.UserID,
			Role:        role,
			Name:        req.Name,
		})
		if err != nil {
			return err
		}

		switch role {
		case access.RoleMember:
			for _, groupID := range req.GroupIDs {
				if _, err := tx.GetGroup(ctx, req.WorkspaceID, groupID); err != nil {
					if isNotFound(err) {
						continue
					}
					return err
				}
				if err := tx.AddGroupMember(ctx, groupID, id); err != nil {
					return err
				}
			}
		case access.RoleGuest:
			if req.ChannelID == nil {
				break
			}
			if _, err := tx.GetChannel(ctx, req.WorkspaceID, *req.ChannelID); err != nil {
				if isNotFound(err) {
					break
				}
				return err
			}
			if err := tx.SetExplicitGrant(ctx, *req.ChannelID, id, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join workspace %d: %w", req.WorkspaceID, err)
	}

	s.invalidateUser(ctx, "join", req.WorkspaceID, req.UserID)
	s.record(ctx, audit.NewEvent(ctx, req.WorkspaceID, audit.EventMemberJoin, audit.ResourceMember, req.UserID).
		With("role", string(role)))
	return s.store.GetWorkspaceUser(ctx, req.WorkspaceID, id)
}

// UpdateRole changes the role of targetUserID. The requester must be OWNER or
// MANAGER, and only the OWNER can grant OWNER, becoming MANAGER in the same
// transaction.
func (s *Service) UpdateRole(ctx context.Context, workspaceID, requesterUserID, targetUserID int64, role access.Role) error {
	if _, err := access.ParseRole(string(role)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		requester, err := tx.FindWorkspaceUser(ctx, workspaceID, requesterUserID)
		if err != nil {
			return err
		}
		if requester == nil {
			return access.ErrNotAMember
		}
		if !requester.Role.IsAdministrative() {
			return ErrInsufficientRole
		}

		target, err := s.liveMember(ctx, tx, workspaceID, targetUserID)
		if err != nil {
			return err
		}

		if role == access.RoleOwner {
			if requester.Role != access.RoleOwner {
				return ErrOwnerDelegation
			}
			if target.ID == requester.ID {
				return nil
			}
			if err := tx.SetRole(ctx, requester.ID, access.RoleManager); err != nil {
				return err
			}
		} else if target.Role == access.RoleOwner {
			// The owner changes role only by handing ownership over
			return ErrOwnerDelegation
		}
		return tx.SetRole(ctx, target.ID, role)
	})
	if err != nil {
		return fmt.Errorf("failed to update role of user %d: %w", targetUserID, err)
	}

	s.invalidateUser(ctx, "update_role", workspaceID, targetUserID)
	if requesterUserID != targetUserID {
		s.invalidateUser(ctx, "update_role", workspaceID, requesterUserID)
	}
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventMemberRoleChange, audit.ResourceMember, targetUserID).
		With("role", string(role)).
		With("requester_user_id", requesterUserID))
	return nil
}

// Kick removes a member from the workspace. The member may join again.
func (s *Service) Kick(ctx context.Context, workspaceID, userID int64) error {
	return s.remove(ctx, "kick", audit.EventMemberKick, workspaceID, userID, func(tx *postgres.Tx, wu *access.WorkspaceUser) error {
		return tx.SoftDeleteWorkspaceUser(ctx, wu.ID)
	})
}

// Ban removes a member and prevents them from joining again
func (s *Service) Ban(ctx context.Context, workspaceID, userID int64) error {
	return s.remove(ctx, "ban", audit.EventMemberBan, workspaceID, userID, func(tx *postgres.Tx, wu *access.WorkspaceUser) error {
		return tx.BanWorkspaceUser(ctx, wu.ID)
	})
}

// Leave removes the caller from the workspace
func (s *Service) Leave(ctx context.Context, workspaceID, userID int64) error {
	return s.remove(ctx, "leave", audit.EventMemberLeave, workspaceID, userID, func(tx *postgres.Tx, wu *access.WorkspaceUser) error {
		return tx.SoftDeleteWorkspaceUser(ctx, wu.ID)
	})
}

func (s *Service) remove(ctx context.Context, op string, eventType audit.EventType, workspaceID, userID int64, fn func(*postgres.Tx, *access.WorkspaceUser) error) error {
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		wu, err := s.liveMember(ctx, tx, workspaceID, userID)
		if err != nil {
			return err
		}
		if wu.Role == access.RoleOwner {
			return ErrOwnerCannotLeave
		}
		return fn(tx, wu)
	})
	if err != nil {
		return fmt.Errorf("failed to %s user %d: %w", op, userID, err)
	}

	s.invalidateUser(ctx, op, workspaceID, userID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, eventType, audit.ResourceMember, userID))
	return nil
}

// Unban lifts a ban. The user stays out of the workspace until they join
// again.
func (s *Service) Unban(ctx context.Context, workspaceID, userID int64) error {
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		wu, err := tx.FindLatestWorkspaceUser(ctx, workspaceID, userID)
		if err != nil {
			return err
		}
		return tx.SetBanned(ctx, wu.ID, false)
	})
	if err != nil {
		return fmt.Errorf("failed to unban user %d: %w", userID, err)
	}
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventMemberUnban, audit.ResourceMember, userID))
	return nil
}

// CreateGroup creates an empty group
func (s *Service) CreateGroup(ctx context.Context, workspaceID int64, name string) (*postgres.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}

	id, err := s.store.CreateGroup(ctx, workspaceID, name)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventGroupCreate, audit.ResourceGroup, id).
		With("name", name))
	return &postgres.Group{ID: id, WorkspaceID: workspaceID, Name: name}, nil
}

// UpdateGroup renames a group and replaces its members and channel grants
func (s *Service) UpdateGroup(ctx context.Context, workspaceID, groupID int64, update GroupUpdate) (*postgres.Group, error) {
	for _, grant := range update.Channels {
		if grant.Level <= access.LevelNone || !grant.Level.Valid() {
			return nil, fmt.Errorf("%w: level %s on channel %d", ErrInvalidInput, grant.Level, grant.ChannelID)
		}
	}

	var group *postgres.Group
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		var err error
		group, err = tx.GetGroup(ctx, workspaceID, groupID)
		if err != nil {
			return err
		}

		if update.Name != nil && strings.TrimSpace(*update.Name) != "" {
			group.Name = strings.TrimSpace(*update.Name)
			if err := tx.RenameGroup(ctx, groupID, group.Name); err != nil {
				return err
			}
		}

		for _, id := range update.WorkspaceUserIDs {
			wu, err := tx.GetWorkspaceUser(ctx, workspaceID, id)
			if err != nil {
				return err
			}
			if wu.Role == access.RoleGuest {
				return fmt.Errorf("workspace user %d: %w", id, ErrGuestInGroup)
			}
		}
		if err := tx.ReplaceGroupMembers(ctx, groupID, update.WorkspaceUserIDs); err != nil {
			return err
		}

		for _, grant := range update.Channels {
			if _, err := tx.GetChannel(ctx, workspaceID, grant.ChannelID); err != nil {
				return err
			}
		}
		return tx.ReplaceGroupChannels(ctx, groupID, update.Channels)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update group %d: %w", groupID, err)
	}

	s.invalidateWorkspace(ctx, "update_group", workspaceID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventGroupUpdate, audit.ResourceGroup, groupID).
		With("name", group.Name).
		With("members", len(update.WorkspaceUserIDs)).
		With("channels", len(update.Channels)))
	return group, nil
}

// DeleteGroup removes a group. Its members lose the group's grants.
func (s *Service) DeleteGroup(ctx context.Context, workspaceID, groupID int64) error {
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		if _, err := tx.GetGroup(ctx, workspaceID, groupID); err != nil {
			return err
		}
		return tx.SoftDeleteGroup(ctx, groupID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete group %d: %w", groupID, err)
	}

	s.invalidateWorkspace(ctx, "delete_group", workspaceID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventGroupDelete, audit.ResourceGroup, groupID))
	return nil
}

// InviteGuestToChannel gives a guest WRITE on one channel
func (s *Service) InviteGuestToChannel(ctx context.Context, workspaceID, channelID, workspaceUserID int64) error {
	return s.setGuestGrant(ctx, "invite_guest", audit.EventChannelGuestInvite, workspaceID, channelID, workspaceUserID, true)
}

// RemoveGuestFromChannel revokes a guest's invitation to one channel
func (s *Service) RemoveGuestFromChannel(ctx context.Context, workspaceID, channelID, workspaceUserID int64) error {
	return s.setGuestGrant(ctx, "remove_guest", audit.EventChannelGuestRemove, workspaceID, channelID, workspaceUserID, false)
}

func (s *Service) setGuestGrant(ctx context.Context, op string, eventType audit.EventType, workspaceID, channelID, workspaceUserID int64, explicit bool) error {
	var userID int64
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		wu, err := tx.GetWorkspaceUser(ctx, workspaceID, workspaceUserID)
		if err != nil {
			return err
		}
		if wu.Role != access.RoleGuest {
			return ErrNotGuest
		}
		if _, err := tx.GetChannel(ctx, workspaceID, channelID); err != nil {
			return err
		}
		userID = wu.UserID
		return tx.SetExplicitGrant(ctx, channelID, workspaceUserID, explicit)
	})
	if err != nil {
		return fmt.Errorf("failed to %s on channel %d: %w", strings.ReplaceAll(op, "_", " "), channelID, err)
	}

	s.invalidateUser(ctx, op, workspaceID, userID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, eventType, audit.ResourceChannel, channelID).
		With("workspace_user_id", workspaceUserID))
	return nil
}

// CreateChannel appends a channel to the end of its category
func (s *Service) CreateChannel(ctx context.Context, workspaceID int64, nc NewChannel) (*access.Channel, error) {
	name := strings.TrimSpace(nc.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: channel name is required", ErrInvalidInput)
	}
	channelType := nc.Type
	if channelType == "" {
		channelType = access.ChannelChat
	}
	if channelType != access.ChannelChat && channelType != access.ChannelAssistant {
		return nil, fmt.Errorf("%w: unknown channel type %q", ErrInvalidInput, channelType)
	}

	var id int64
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		if _, err := tx.GetCategory(ctx, workspaceID, nc.CategoryID); err != nil {
			return err
		}
		z, err := tx.NextChannelZIndex(ctx, nc.CategoryID)
		if err != nil {
			return err
		}
		id, err = tx.CreateChannel(ctx, access.Channel{
			WorkspaceID: workspaceID,
			CategoryID:  &nc.CategoryID,
			Type:        channelType,
			Name:        name,
			ZIndex:      z,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	s.invalidateWorkspace(ctx, "create_channel", workspaceID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventChannelCreate, audit.ResourceChannel, id).
		With("name", name).
		With("type", string(channelType)))
	return s.store.GetChannel(ctx, workspaceID, id)
}

// DeleteChannel removes a channel and every grant on it
func (s *Service) DeleteChannel(ctx context.Context, workspaceID, channelID int64) error {
	err := s.store.WithTx(ctx, func(tx *postgres.Tx) error {
		if _, err := tx.GetChannel(ctx, workspaceID, channelID); err != nil {
			return err
		}
		return tx.SoftDeleteChannel(ctx, channelID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete channel %d: %w", channelID, err)
	}

	s.invalidateWorkspace(ctx, "delete_channel", workspaceID)
	s.record(ctx, audit.NewEvent(ctx, workspaceID, audit.EventChannelDelete, audit.ResourceChannel, channelID))
	return nil
}

func (s *Service) liveMember(ctx context.Context, tx *postgres.Tx, workspaceID, userID int64) (*access.WorkspaceUser, error) {
	wu, err := tx.FindWorkspaceUser(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if wu == nil {
		return nil, fmt.Errorf("user %d in workspace %d: %w", userID, workspaceID, postgres.ErrNotFound)
	}
	return wu, nil
}

// The mutation has committed by the time these run, so a cancelled request
// must not skip invalidation and a failed one is only logged.
func (s *Service) invalidateUser(ctx context.Context, op string, workspaceID, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(context.WithoutCancel(ctx), workspaceID, userID); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"operation":    op,
			"workspace_id": workspaceID,
			"user_id":      userID,
		}).WithError(err).Warn("access cache entry may be stale")
	}
}

func (s *Service) invalidateWorkspace(ctx context.Context, op string, workspaceID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateWorkspace(context.WithoutCancel(ctx), workspaceID); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"operation":    op,
			"workspace_id": workspaceID,
		}).WithError(err).Warn("access cache entries may be stale")
	}
}

// record writes an audit event for a committed mutation. A failure is only
// logged.
func (s *Service) record(ctx context.Context, event *audit.Event) {
	if err := s.auditor.Log(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"event_type":   string(event.EventType),
			"workspace_id": event.WorkspaceID,
			"resource_id":  event.ResourceID,
		}).WithError(err).Warn("audit event not recorded")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, postgres.ErrNotFound)
}

package access

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("prizm/access")

// Calculator computes the channel permission map of a workspace member from
// the persisted role, group and explicit grant state. It holds no state of its
// own and is safe for concurrent use.
type Calculator struct {
	source Source
}

// NewCalculator creates a calculator reading from source
func NewCalculator(source Source) *Calculator {
	return &Calculator{source: source}
}

// Compute returns the level held on every live channel the member can see.
// Channels without a positive level are absent from the map.
//
// The branches are exclusive by role: administrators get MANAGE on every live
// chat channel, guests get WRITE on their explicit grants, members get the
// maximum over their groups' grants.
func (c *Calculator) Compute(ctx context.Context, wu *WorkspaceUser) (PermissionMap, error) {
	ctx, span := tracer.Start(ctx, "Calculator.Compute",
		trace.WithAttributes(
			attribute.Int64("workspace_id", wu.WorkspaceID),
			attribute.Int64("workspace_user_id", wu.ID),
			attribute.String("role", string(wu.Role)),
		),
	)
	defer span.End()

	var (
		perms PermissionMap
		err   error
	)
	switch {
	case wu.Role.IsAdministrative():
		perms, err = c.administrativeChannels(ctx, wu.WorkspaceID)
	case wu.Role == RoleGuest:
		perms, err = c.guestChannels(ctx, wu.ID)
	case wu.Role == RoleMember:
		perms, err = c.memberChannels(ctx, wu.ID)
	default:
		perms = PermissionMap{}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compute permissions")
		return nil, err
	}

	span.SetAttributes(attribute.Int("channels", len(perms)))
	return perms, nil
}

func (c *Calculator) administrativeChannels(ctx context.Context, workspaceID int64) (PermissionMap, error) {
	channels, err := c.source.ListChannels(ctx, workspaceID, ChannelChat)
	if err != nil {
		return nil, sourceErr("list chat channels", err)
	}

	perms := make(PermissionMap, len(channels))
	for _, ch := range channels {
		if ch.DeletedAt != nil {
			continue
		}
		perms[ch.ID] = LevelManage
	}
	return perms, nil
}

func (c *Calculator) guestChannels(ctx context.Context, workspaceUserID int64) (PermissionMap, error) {
	grants, err := c.source.ListExplicitGrants(ctx, workspaceUserID)
	if err != nil {
		return nil, sourceErr("list explicit grants", err)
	}

	perms := make(PermissionMap, len(grants))
	for _, g := range grants {
		perms[g.ChannelID] = LevelWrite
	}
	return perms, nil
}

func (c *Calculator) memberChannels(ctx context.Context, workspaceUserID int64) (PermissionMap, error) {
	memberships, err := c.source.ListGroupMemberships(ctx, workspaceUserID)
	if err != nil {
		return nil, sourceErr("list group memberships", err)
	}

	perms := PermissionMap{}
	for _, m := range memberships {
		grants, err := c.source.ListGroupChannelGrants(ctx, m.GroupID)
		if err != nil {
			return nil, sourceErr("list group channel grants", err)
		}
		for _, g := range grants {
			// Grant levels below READ carry nothing.
			if g.Level <= LevelNone || !g.Level.Valid() {
				continue
			}
			perms[g.ChannelID] = Max(perms.Get(g.ChannelID), g.Level)
		}
	}
	return perms, nil
}

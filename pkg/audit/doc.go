// Package audit records who changed workspace membership and access.
//
// # Event Types
//
// Members: member.join, member.role_change, member.kick, member.ban,
// member.unban, member.leave
// Groups: group.create, group.update, group.delete
// Channels: channel.create, channel.delete, channel.guest_invite,
// channel.guest_remove
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, workspaceID, audit.EventMemberKick, audit.ResourceMember, userID)
//	if err := logger.Log(ctx, event); err != nil {
//		...
//	}
//
// Search the trail of a workspace, newest first:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		WorkspaceID: workspaceID,
//		EventTypes:  []audit.EventType{audit.EventMemberBan},
//		Limit:       50,
//	})
//
// # Destinations
//
// DBLogger writes to the audit_events table, LogWriter writes structured log
// lines, and MultiLogger fans out to several destinations.
package audit

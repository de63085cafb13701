// Package access computes and enforces channel-level access within a
// workspace.
//
// # Levels and roles
//
// A member holds one Level per channel: NONE < READ < WRITE < MANAGE. Levels
// combine with Max and are compared with Meets. A member also holds one Role
// in the workspace: OWNER, MANAGER, MEMBER or GUEST.
//
// # Calculator
//
// Calculator.Compute derives the full PermissionMap of one member from a
// Source:
//
//   - OWNER and MANAGER: MANAGE on every live CHAT channel
//   - GUEST: WRITE on every live explicit grant
//   - MEMBER: for each live group, each grant on a live channel, max-merged
//
// Any other role gets an empty map. Reader failures surface as errors
// matching ErrSourceUnavailable.
//
// # Resolver
//
// Resolver puts a Cache in front of the calculator. Cache reads and writes
// fail open: an error is logged and counted, then the map is recomputed.
// Concurrent misses for the same member share one computation. Mutations call
// Invalidate or InvalidateWorkspace after they commit.
//
// # Gate
//
// Gate.Authorize turns a Requirement into a Decision:
//
//	d, err := gate.Authorize(ctx, identity, target, access.RequirePermission(access.LevelWrite))
//	if err != nil {
//		// ErrMissingTarget or a source failure, never a denial
//	}
//	if !d.Allowed {
//		// d.Reason is one of the Reason constants
//	}
//
// Role requirements are exact set membership; a MANAGER does not pass
// RequireRoles(RoleOwner). Permission requirements are a threshold on the
// target channel.
package access

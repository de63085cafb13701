// Package membership applies the workspace mutations that change channel
// access: joins and removals, role changes, group edits, guest invitations
// and channel lifecycle.
//
// Each operation runs in one postgres transaction. After it commits, the
// service invalidates the cached permission maps it affected: the member for
// joins, removals, role changes and guest grants, the whole workspace for
// group and channel changes. An invalidation failure is logged and does not
// fail the committed operation.
package membership

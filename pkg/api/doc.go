// Package api exposes channel access and membership management over HTTP.
//
// Every route under /api/v1 declares its requirement through
// middleware.GateMiddleware, so handlers only run for admitted members and
// read the member from the request:
//
//	GET    /workspaces/{workspaceId}/permissions                     any member
//	GET    /workspaces/{workspaceId}/channels                        any member
//	GET    /workspaces/{workspaceId}/channels/{channelId}/permission any member
//	GET    /workspaces/{workspaceId}/channels/{channelId}/users      READ
//	POST   /workspaces/{workspaceId}/channels                        OWNER, MANAGER
//	DELETE /workspaces/{workspaceId}/channels/{channelId}            OWNER, MANAGER
//	PUT    /workspaces/{workspaceId}/channels/{channelId}/guests/{workspaceUserId} OWNER, MANAGER or MANAGE
//	DELETE /workspaces/{workspaceId}/channels/{channelId}/guests/{workspaceUserId} OWNER, MANAGER or MANAGE
//	POST   /workspaces/{workspaceId}/members                         OWNER, MANAGER
//	PUT    /workspaces/{workspaceId}/members/{userId}/role           OWNER, MANAGER
//	DELETE /workspaces/{workspaceId}/members/{userId}                OWNER, MANAGER
//	POST   /workspaces/{workspaceId}/members/{userId}/ban            OWNER, MANAGER
//	DELETE /workspaces/{workspaceId}/members/{userId}/ban            OWNER, MANAGER
//	POST   /workspaces/{workspaceId}/leave                           any member
//	POST   /workspaces/{workspaceId}/groups                          OWNER, MANAGER
//	PUT    /workspaces/{workspaceId}/groups/{groupId}                OWNER, MANAGER
//	DELETE /workspaces/{workspaceId}/groups/{groupId}                OWNER, MANAGER
//	GET    /workspaces/{workspaceId}/audit                           OWNER, MANAGER
//
// The audit route is served only when the server is built WithAuditTrail.
//
// Service errors map to 404 for unknown records, 403 for role violations,
// 409 for duplicate membership and 422 for rule violations such as a guest
// in a group.
package api

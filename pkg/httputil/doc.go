// Response helpers:
//
//	httputil.WriteSuccess(w, channels)
//	httputil.WriteReason(w, http.StatusForbidden, "insufficient role", "INSUFFICIENT_ROLE")
//
// Request helpers:
//
//	var req UpdateRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	groupID, ok := httputil.ParsePathInt64OrError(w, r, "groupId")
package httputil

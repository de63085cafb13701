package api

import (
	"errors"
	"net/http"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/httputil"
	"github.com/prizmrun/prizm/pkg/membership"
	"github.com/prizmrun/prizm/pkg/observability"
	"github.com/prizmrun/prizm/pkg/storage/postgres"
)

// writeServiceError maps a service error to its response. Unexpected errors
// are logged and answered with a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		httputil.WriteNotFound(w, "not found")
	case errors.Is(err, access.ErrNotAMember):
		httputil.WriteReason(w, http.StatusForbidden, "not a member of this workspace", string(access.ReasonNotAMember))
	case errors.Is(err, membership.ErrInsufficientRole),
		errors.Is(err, membership.ErrOwnerDelegation):
		httputil.WriteReason(w, http.StatusForbidden, err.Error(), string(access.ReasonInsufficientRole))
	case errors.Is(err, membership.ErrBanned):
		httputil.WriteForbidden(w, membership.ErrBanned.Error())
	case errors.Is(err, membership.ErrAlreadyMember):
		httputil.WriteConflict(w, membership.ErrAlreadyMember.Error())
	case errors.Is(err, membership.ErrOwnerCannotLeave),
		errors.Is(err, membership.ErrGuestInGroup),
		errors.Is(err, membership.ErrNotGuest),
		errors.Is(err, membership.ErrInvalidInput):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		httputil.WriteInternalError(w)
	}
}

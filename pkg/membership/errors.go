package membership

import "errors"

var (
	// ErrBanned is returned when a banned user tries to join again
	ErrBanned = errors.New("user is banned from the workspace")

	// ErrAlreadyMember is returned when the user already has a live membership
	ErrAlreadyMember = errors.New("user is already in the workspace")

	// ErrInsufficientRole is returned when the requester may not change roles
	ErrInsufficientRole = errors.New("requester lacks the role for this change")

	// ErrOwnerDelegation is returned when a non-owner tries to grant OWNER
	ErrOwnerDelegation = errors.New("only the owner can hand over ownership")

	// ErrOwnerCannotLeave is returned when the owner leaves, is kicked or is banned
	ErrOwnerCannotLeave = errors.New("the owner cannot leave the workspace")

	// ErrGuestInGroup is returned when a guest is assigned to a group
	ErrGuestInGroup = errors.New("guests cannot be assigned to groups")

	// ErrNotGuest is returned when an explicit channel grant targets a non-guest
	ErrNotGuest = errors.New("explicit channel grants apply to guests only")

	// ErrInvalidInput is returned for malformed names, roles, levels and types
	ErrInvalidInput = errors.New("invalid input")
)

package service

import "github.com/kitabi/backend/models"

// Decision is the outcome of a read-permission check.
type Decision int

const (
	Allow Decision = iota
	DenyNotAuthorized
	DenyFormatUnavailable
	// DenyFormatPending is returned to the owner probing a format that is
	// not yet available (upload still in flight), so the UI can show
	// "processing" instead of a generic not-found.
	DenyFormatPending
)

func (d Decision) Allowed() bool { return d == Allow }

// Message is the client-facing reason for a deny. Catalog state is not
// security-sensitive, so these are specific.
func (d Decision) Message() string {
	switch d {
	case Allow:
		return ""
	case DenyFormatUnavailable:
		return "format not available"
	case DenyFormatPending:
		return "format not yet available"
	default:
		return "not authorized for this book/format"
	}
}

// CanRead decides whether ident may read the given format of book. It is a
// pure function of (role, id, ownerId, visibility, available): no hidden
// state, no I/O.
//
// Availability gates everything: an absent or unavailable format is a deny
// even for the owner or an admin, though the owner gets the distinguishable
// pending status. Past that gate, the first match wins: public books are
// readable by anyone authenticated, owners always read their own uploads,
// admins read everything.
func CanRead(ident *models.Identity, book *models.Book, format string) Decision {
	ref, ok := book.File(format)
	if !ok || !ref.Available {
		if ident != nil && ident.ID == book.OwnerID {
			return DenyFormatPending
		}
		return DenyFormatUnavailable
	}
	if book.Visibility == models.VisibilityPublic {
		return Allow
	}
	if ident == nil {
		return DenyNotAuthorized
	}
	if ident.ID == book.OwnerID {
		return Allow
	}
	if ident.Role == models.RoleAdmin {
		return Allow
	}
	return DenyNotAuthorized
}

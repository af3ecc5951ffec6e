package cart

import (
	"strings"

	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/fault"
)

type ownerKind uint8

const (
	ownerNone ownerKind = iota
	ownerUser
	ownerSession
)

// maxSessionTokenLen matches the session_id column width.
const maxSessionTokenLen = 100

// Owner identifies who a cart belongs to: either a registered user or an
// anonymous session, never both. The zero value is invalid.
type Owner struct {
	kind    ownerKind
	userID  uuid.UUID
	session string
}

// UserOwner returns the owner for a registered user.
func UserOwner(id uuid.UUID) Owner {
	return Owner{kind: ownerUser, userID: id}
}

// SessionOwner returns the owner for an anonymous session token.
func SessionOwner(token string) Owner {
	return Owner{kind: ownerSession, session: strings.TrimSpace(token)}
}

// UserID returns the user id and true when the owner is a registered user.
func (o Owner) UserID() (uuid.UUID, bool) {
	return o.userID, o.kind == ownerUser
}

// SessionToken returns the session token and true for anonymous owners.
func (o Owner) SessionToken() (string, bool) {
	return o.session, o.kind == ownerSession
}

// Validate checks that the owner carries a usable identity.
func (o Owner) Validate() error {
	switch o.kind {
	case ownerUser:
		if o.userID == uuid.Nil {
			return fault.Validationf("cart owner: user id is required")
		}
	case ownerSession:
		if o.session == "" {
			return fault.Validationf("cart owner: session token is required")
		}
		if len(o.session) > maxSessionTokenLen {
			return fault.Validationf("cart owner: session token longer than %d characters", maxSessionTokenLen)
		}
	default:
		return fault.Validationf("cart owner: either a user id or a session token is required")
	}
	return nil
}

func (o Owner) String() string {
	switch o.kind {
	case ownerUser:
		return "user:" + o.userID.String()
	case ownerSession:
		return "session:" + o.session
	default:
		return "none"
	}
}

package lifecycle

import (
	"github.com/google/uuid"
)

// Identity is the opaque token a plugin registers its contributions under.
// It is comparable and safe to use as a map key. Two identities minted with
// the same name are still distinct.
type Identity struct {
	name string
	id   uuid.UUID
}

// NewIdentity mints a fresh identity. The name is only used for display and
// logging.
func NewIdentity(name string) Identity {
	return Identity{name: name, id: uuid.New()}
}

// Name returns the display name given to NewIdentity.
func (i Identity) Name() string {
	return i.name
}

// ID returns the unique part of the identity.
func (i Identity) ID() uuid.UUID {
	return i.id
}

// IsZero reports whether i is the zero Identity (never minted).
func (i Identity) IsZero() bool {
	return i.id == uuid.Nil
}

// String renders the identity as "name#xxxxxxxx", using the first
// eight hex digits of the id.
func (i Identity) String() string {
	if i.IsZero() {
		return "<none>"
	}
	return i.name + "#" + i.id.String()[:8]
}

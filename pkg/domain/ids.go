// Package domain holds the shared domain primitives for the registry core:
// typed identifiers, entity keys, transaction IDs, and registration periods.
//
// Identifiers are validated at trust boundaries via the Parse* constructors;
// direct conversion bypasses validation and is reserved for internal code
// that already holds a trusted value.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RegistrarID identifies a registrar (an EPP client).
// Invariant: 3-16 characters, per the EPP clID syntax.
type RegistrarID string

// ParseRegistrarID constructs a RegistrarID from external input.
func ParseRegistrarID(s string) (RegistrarID, error) {
	if len(s) < 3 || len(s) > 16 {
		return "", fmt.Errorf("registrar id must be 3-16 characters, got %d", len(s))
	}
	return RegistrarID(s), nil
}

func (r RegistrarID) String() string {
	return string(r)
}

// IsNil returns true when no registrar is set.
func (r RegistrarID) IsNil() bool {
	return r == ""
}

// ResourceID is the repository identifier of an EPP resource
// (a fully qualified domain name or a contact handle).
type ResourceID string

// ParseResourceID constructs a ResourceID from external input.
func ParseResourceID(s string) (ResourceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("resource id cannot be empty")
	}
	if len(s) > 255 {
		return "", fmt.Errorf("resource id must be 255 characters or less")
	}
	return ResourceID(strings.ToLower(s)), nil
}

func (r ResourceID) String() string {
	return string(r)
}

// TLD extracts the policy namespace from a domain name. Contacts have no
// TLD and return the empty string.
func (r ResourceID) TLD() string {
	idx := strings.LastIndexByte(string(r), '.')
	if idx < 0 {
		return ""
	}
	return string(r)[idx+1:]
}

// TRID is the EPP transaction identifier pair correlating a command with
// its eventual outcomes. ClientTrid is supplied by the registrar and may be
// empty; ServerTrid is always assigned by the registry.
type TRID struct {
	ClientTrid string `json:"client_trid"`
	ServerTrid string `json:"server_trid"`
}

// NewTRID assigns a fresh server transaction ID for the given client TRID.
func NewTRID(clientTrid string) TRID {
	return TRID{
		ClientTrid: clientTrid,
		ServerTrid: uuid.NewString(),
	}
}

func (t TRID) IsNil() bool {
	return t.ServerTrid == ""
}

// EntityKind tags an EntityKey with the type of row it references.
type EntityKind string

const (
	KindBillingOneTime      EntityKind = "billing_one_time"
	KindBillingRecurring    EntityKind = "billing_recurring"
	KindBillingCancellation EntityKind = "billing_cancellation"
	KindPollMessage         EntityKind = "poll_message"
	KindHistoryEntry        EntityKind = "history_entry"
)

// EntityKey is an opaque reference to a persisted side-effect entity.
// Cross-entity references are always keys resolved through the store, never
// in-memory pointers, so projection can build ephemeral object graphs
// without ownership cycles.
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

// NewEntityKey allocates a key for a new entity of the given kind.
func NewEntityKey(kind EntityKind) EntityKey {
	return EntityKey{Kind: kind, ID: uuid.New()}
}

func (k EntityKey) IsNil() bool {
	return k.ID == uuid.Nil
}

func (k EntityKey) String() string {
	return string(k.Kind) + ":" + k.ID.String()
}

// ParseEntityKey reverses EntityKey.String.
func ParseEntityKey(s string) (EntityKey, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return EntityKey{}, fmt.Errorf("malformed entity key %q", s)
	}
	id, err := uuid.Parse(s[idx+1:])
	if err != nil {
		return EntityKey{}, fmt.Errorf("malformed entity key %q: %w", s, err)
	}
	return EntityKey{Kind: EntityKind(s[:idx]), ID: id}, nil
}

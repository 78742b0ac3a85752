package mailqueue

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	idRawLength = 16
	idHexLength = 32
)

// ID is a UUID v7 queue identifier. Its text form is 32 lowercase hex digits,
// which is safe to use verbatim as a folder and file name prefix.
type ID [idRawLength]byte

// IsZero reports whether the ID is all zeros.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns the 32 hex digit representation.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID parses the 32 hex digit representation of an ID.
func ParseID(value string) (ID, error) {
	if len(value) != idHexLength {
		return ID{}, ErrInvalidID
	}

	var id ID
	if _, err := hex.Decode(id[:], []byte(value)); err != nil {
		return ID{}, ErrInvalidID
	}

	return id, nil
}

// IDGenerator creates new queue identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (ID, error)
}

// UUIDv7Generator produces UUID v7 identifiers. Ids created by one process are
// strictly increasing, so queue folders sort by creation time.
type UUIDv7Generator struct{}

// NewUUIDv7Generator creates a UUID v7 generator.
func NewUUIDv7Generator() *UUIDv7Generator {
	return &UUIDv7Generator{}
}

// New creates a new UUID v7 identifier.
func (*UUIDv7Generator) New() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return ID{}, fmt.Errorf("uuid v7: %w", err)
	}

	return ID(u), nil
}

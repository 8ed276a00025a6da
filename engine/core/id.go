package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a sortable unique identifier used across the engine.
type ID string

// NewID generates a new ksuid-backed ID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("core: generate id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID generates a new ID and panics on failure.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates that the input is a well-formed ksuid.
func ParseID(input string) (ID, error) {
	if _, err := ksuid.Parse(input); err != nil {
		return "", fmt.Errorf("core: parse id %q: %w", input, err)
	}
	return ID(input), nil
}

func (i ID) String() string {
	return string(i)
}

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool {
	return i == ""
}

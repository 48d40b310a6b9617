// Package attachment stores expense receipts. A reference is the hex encoded
// BLAKE2b-256 digest of the content keyed by the owning event id: the same
// bytes stored twice for one event share a reference, and never across events.
package attachment

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrEmpty    = errors.New("attachment is empty")
	ErrTooLarge = errors.New("attachment is too large")
	ErrNotFound = errors.New("attachment not found")
)

type Store interface {
	// Validate reports whether data would be accepted by Put.
	Validate(data []byte) error
	Put(ctx context.Context, eventID uuid.UUID, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Ref returns the reference data is stored under for eventID.
func Ref(eventID uuid.UUID, data []byte) string {
	h, err := blake2b.New256(eventID[:])
	if err != nil {
		// only possible with a key longer than 64 bytes
		panic(err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func validate(data []byte, maxBytes int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return ErrTooLarge
	}
	return nil
}

package utils

import "github.com/google/uuid"

// IsUUID reports whether a path parameter parses as a UUID, so handlers can
// reject junk ids before touching storage.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)

	return err == nil
}

package validation

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/result"
)

var itemIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

func IsValidItemID(id string) bool { return itemIDPattern.MatchString(id) }

func ItemID(id string) error {
	if !IsValidItemID(id) {
		return result.Errorf(result.KindValidation, "Invalid item ID: %q", id)
	}
	return nil
}

// StripNamespace drops a "namespace:" prefix from a host key.
func StripNamespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func Positive(v int64, name string) error {
	if v <= 0 {
		return result.Errorf(result.KindValidation, "%s must be positive, was %d", name, v)
	}
	return nil
}

func NonNegative(v int64, name string) error {
	if v < 0 {
		return result.Errorf(result.KindValidation, "%s cannot be negative, was %d", name, v)
	}
	return nil
}

func InRange(v, min, max int64, name string) error {
	if v < min || v > max {
		return result.Errorf(result.KindValidation, "%s must be between %d and %d, was %d", name, min, max, v)
	}
	return nil
}

// ParseUUID returns false for empty or malformed input.
func ParseUUID(s string) (uuid.UUID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

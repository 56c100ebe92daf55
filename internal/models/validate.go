package models

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// extensionFieldPattern matches x-<reverse-domain>.<name> extension keys.
var extensionFieldPattern = regexp.MustCompile(`^x-[a-z0-9]+(\.[a-z0-9]+)+$`)

// Validate checks a Unit against the normative invariants of spec §8,
// returning the first violation found, in field order.
func Validate(u *Unit) error {
	if !IsUUIDv7(u.ID) {
		return fmt.Errorf("id must be a valid UUIDv7, got %q", u.ID)
	}
	if !u.Type.Valid() {
		return fmt.Errorf("type must be one of assertion, question, inference, challenge, constraint, got %q", u.Type)
	}
	if u.Content == "" {
		return fmt.Errorf("content must not be empty")
	}
	if u.Author == "" {
		return fmt.Errorf("author must not be empty")
	}
	if u.CreatedAt.IsZero() {
		return fmt.Errorf("created_at must be a valid RFC 3339 timestamp")
	}
	if u.Confidence != nil {
		c := *u.Confidence
		if c < 0.0 || c > 1.0 {
			return fmt.Errorf("confidence must be between 0.0 and 1.0 inclusive, got %v", c)
		}
	}
	if u.Assumptions != nil {
		if len(u.Assumptions) == 0 {
			return fmt.Errorf("assumptions must contain at least one item when present")
		}
		for i, a := range u.Assumptions {
			if a == "" {
				return fmt.Errorf("assumption at index %d must not be empty", i)
			}
		}
	}
	if u.References != nil {
		if len(u.References) == 0 {
			return fmt.Errorf("references must contain at least one item when present")
		}
		for i, r := range u.References {
			if !IsUUIDv7(r.ID) {
				return fmt.Errorf("reference id at index %d must be a valid UUIDv7, got %q", i, r.ID)
			}
			if !r.Rel.Valid() {
				return fmt.Errorf("reference rel at index %d is invalid: %q", i, r.Rel)
			}
		}
	}
	if u.Visibility != "" && !u.Visibility.Valid() {
		return fmt.Errorf("visibility must be one of public, network, limited, got %q", u.Visibility)
	}
	if u.EffectiveVisibility() == VisibilityLimited && len(u.Audience) == 0 {
		return fmt.Errorf("audience must be a non-empty list when visibility=limited")
	}
	for key := range u.Extensions {
		if !extensionFieldPattern.MatchString(key) {
			return fmt.Errorf("extension field %q is invalid; names must match x-<reverse-domain>.<name>", key)
		}
	}
	return nil
}

// IsUUIDv7 reports whether s parses as a UUID with version 7.
func IsUUIDv7(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7
}

// NewUnitID mints a new time-sortable identifier.
func NewUnitID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the entropy source errors; fall back to a
		// random v4 rather than panicking, so callers never see an error here.
		return uuid.New().String()
	}
	return id.String()
}

package storage

import (
	"path/filepath"
	"strings"

	"cutroom/internal/ids"
	"cutroom/internal/services"
)

// ValidateSessionID rejects anything but a canonical lowercase UUID, which
// rules out separators and dot segments before any path is joined.
func ValidateSessionID(id string) error {
	if !ids.ValidSessionID(id) {
		return services.Wrap(services.ErrValidation, "resolve session", "", "invalid session id", nil)
	}
	return nil
}

// ValidateAssetID rejects anything but a canonical ULID.
func ValidateAssetID(id string) error {
	if !ids.ValidULID(id) {
		return services.Wrap(services.ErrValidation, "resolve asset", "", "invalid asset id", nil)
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return services.Validation("resolve asset", "invalid asset file name")
	}
	return nil
}

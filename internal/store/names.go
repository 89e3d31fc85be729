package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateName checks a bucket name or object type. Names map directly onto
// directory entries, so anything that could escape the parent directory or
// collide with the hidden staging area is refused.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty: %w", ErrInvalidArgument)
	}
	// Null bytes truncate paths on some filesystems
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("null bytes not allowed: %w", ErrInvalidArgument)
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return fmt.Errorf("path separators not allowed in %q: %w", name, ErrInvalidArgument)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name %q cannot start with a dot: %w", name, ErrInvalidArgument)
	}
	return nil
}

// validateObjectName is validateName plus the rule that the name itself holds
// no dot, since the object directory is "<name>.<type>" and is split at the
// first dot when listed.
func validateObjectName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("object name %q cannot contain a dot: %w", name, ErrInvalidArgument)
	}
	return nil
}

// SplitObjectKey splits "<name>.<type>" at the first dot.
func SplitObjectKey(key string) (name, typ string, err error) {
	name, typ, ok := strings.Cut(key, ".")
	if !ok || name == "" || typ == "" {
		return "", "", fmt.Errorf("object key %q must look like <name>.<type>: %w", key, ErrInvalidArgument)
	}
	return name, typ, nil
}

// cacheKey is the identity of an object across the store.
func cacheKey(bucket, name, typ string) string {
	return bucket + "/" + name + "." + typ
}

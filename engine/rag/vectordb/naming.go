package vectordb

import (
	"fmt"
	"regexp"
	"strings"
)

// Collection names must stay portable across providers: lowercase
// alphanumerics and underscores, at most 64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9_]+`)

// CollectionName derives the deterministic collection name for a tenant
// and namespace. Inputs are lowercased and non-portable characters are
// collapsed to underscores before joining.
func CollectionName(prefix, tenantID, namespace string) (string, error) {
	parts := make([]string, 0, 3)
	for _, part := range []string{prefix, tenantID, namespace} {
		cleaned := sanitizeNamePart(part)
		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("vectordb: collection name requires a prefix, tenant or namespace")
	}
	name := strings.Join(parts, "_")
	if err := ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateCollectionName rejects names a provider could mangle.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("vectordb: invalid collection name %q: must match %s", name, collectionNamePattern)
	}
	return nil
}

func sanitizeNamePart(part string) string {
	lowered := strings.ToLower(strings.TrimSpace(part))
	cleaned := invalidNameChars.ReplaceAllString(lowered, "_")
	return strings.Trim(cleaned, "_")
}

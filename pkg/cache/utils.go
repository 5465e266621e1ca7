package cache

import "strings"

// Key joins parts with ':' the way Redis keys are conventionally namespaced.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

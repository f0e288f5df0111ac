// Package sanitize normalizes records before they cross the local/remote
// boundary.
package sanitize

import "strings"

// internalPrefix marks fields that are local bookkeeping and must never be
// transmitted to the remote backend.
const internalPrefix = "_"

// Record returns a copy of rec with empty-string values coerced to nil and
// internal bookkeeping fields dropped. The input map is not modified.
func Record(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if strings.HasPrefix(k, internalPrefix) {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}

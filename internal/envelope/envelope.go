// Package envelope enforces the response size policy. Oversized payloads
// are cut field-by-field, largest string first, preserving success/error
// semantics instead of replacing the whole result.
package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
)

// trimMargin is extra headroom subtracted when cutting a field, covering
// the truncation marker and metadata keys added afterwards.
const trimMargin = 200

// Police serializes result and, if it exceeds maxBytes, truncates the
// largest string fields until it fits. The returned map is the (possibly
// truncated) result; the original map is not modified when truncation
// occurs. If even the truncated form is oversize, a minimal envelope
// preserving success and error is returned.
func Police(result map[string]any, maxBytes int) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("response serialization failed: %v", err),
		}
	}
	if len(raw) <= maxBytes {
		return result
	}

	originalBytes := len(raw)
	out := make(map[string]any, len(result)+3)
	for k, v := range result {
		out[k] = v
	}

	// String fields eligible for truncation, largest first.
	type candidate struct {
		key  string
		size int
	}
	var candidates []candidate
	for k, v := range out {
		if k == "success" || k == "error" {
			continue
		}
		if s, ok := v.(string); ok {
			candidates = append(candidates, candidate{key: k, size: len(s)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].size > candidates[j].size })

	var truncatedFields []string
	for _, c := range candidates {
		raw, _ = json.Marshal(out)
		if len(raw) <= maxBytes {
			break
		}
		overshoot := len(raw) - maxBytes
		val := out[c.key].(string)
		newLen := len(val) - overshoot - trimMargin
		if newLen < 0 {
			newLen = 0
		}
		out[c.key] = val[:newLen] + fmt.Sprintf("... [truncated from %d chars]", len(val))
		truncatedFields = append(truncatedFields, c.key)
	}

	out["truncated"] = true
	out["truncated_fields"] = truncatedFields
	out["original_bytes"] = originalBytes

	// Re-check: nested non-string data (refs, downloads) may keep the
	// envelope over the limit even after field truncation.
	raw, _ = json.Marshal(out)
	if len(raw) > maxBytes {
		minimal := map[string]any{
			"success":        false,
			"error":          "",
			"truncated":      true,
			"original_bytes": len(raw),
			"message": "Response exceeded size limit even after field truncation. " +
				"Use a more targeted request to reduce output size.",
		}
		if s, ok := result["success"].(bool); ok {
			minimal["success"] = s
		}
		if e, ok := result["error"].(string); ok {
			minimal["error"] = e
		}
		if c, ok := result["code"].(string); ok {
			minimal["code"] = c
		}
		return minimal
	}

	return out
}

package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint is a compact page identity used only for stagnation
// detection. It is never used to address elements.
type Fingerprint struct {
	URLHash          string   `json:"url_hash"`
	InteractiveCount int      `json:"interactive_count"`
	TabCount         int      `json:"tab_count"`
	TopRefKeys       []string `json:"top_ref_keys"`
}

// RefEntry is the subset of a ref-map record the fingerprint needs.
type RefEntry struct {
	Role string
	Name string
	Nth  *int
}

// NewFingerprint builds a Fingerprint from the current URL, ref map, and
// tab count. The top-ref tuple covers up to ten refs in key order.
func NewFingerprint(url string, refs map[string]RefEntry, tabCount int) *Fingerprint {
	sum := sha256.Sum256([]byte(url))
	urlHash := hex.EncodeToString(sum[:])[:16]

	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 10 {
		keys = keys[:10]
	}

	top := make([]string, 0, len(keys))
	for _, k := range keys {
		r := refs[k]
		nth := ""
		if r.Nth != nil {
			nth = fmt.Sprintf("%d", *r.Nth)
		}
		top = append(top, r.Role+":"+r.Name+":"+nth)
	}

	return &Fingerprint{
		URLHash:          urlHash,
		InteractiveCount: len(refs),
		TabCount:         tabCount,
		TopRefKeys:       top,
	}
}

// Similarity scores two fingerprints in [0, 1]: 0 for different URLs,
// otherwise 0.5 base + 0.1 per matching tab/interactive count + up to
// 0.3 proportional to top-ref overlap.
func (f *Fingerprint) Similarity(other *Fingerprint) float64 {
	if other == nil || f.URLHash != other.URLHash {
		return 0.0
	}
	score := 0.5
	if f.TabCount == other.TabCount {
		score += 0.1
	}
	if f.InteractiveCount == other.InteractiveCount {
		score += 0.1
	}
	if len(f.TopRefKeys) > 0 && len(other.TopRefKeys) > 0 {
		set := make(map[string]bool, len(f.TopRefKeys))
		for _, k := range f.TopRefKeys {
			set[k] = true
		}
		overlap := 0
		for _, k := range other.TopRefKeys {
			if set[k] {
				overlap++
			}
		}
		maxLen := len(f.TopRefKeys)
		if len(other.TopRefKeys) > maxLen {
			maxLen = len(other.TopRefKeys)
		}
		score += 0.3 * float64(overlap) / float64(maxLen)
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ActionHash returns the 16-hex SHA-256 prefix of verb plus the
// sorted-key JSON of params, excluding session_id and timestamp.
func ActionHash(verb string, params map[string]any) string {
	stable := make(map[string]any, len(params))
	for k, v := range params {
		if k == "session_id" || k == "timestamp" {
			continue
		}
		stable[k] = v
	}
	// encoding/json sorts map keys, giving a deterministic encoding.
	raw, _ := json.Marshal(stable)
	sum := sha256.Sum256([]byte(verb + ":" + string(raw)))
	return hex.EncodeToString(sum[:])[:16]
}

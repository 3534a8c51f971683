package snapshot

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// diffCacheSize bounds how many sessions keep a remembered snapshot.
// Far above the concurrent session cap; the LRU is a leak guard, not a
// working-set tuner.
const diffCacheSize = 64

// diffResult carries what changed between two consecutive snapshots.
type diffResult struct {
	newCount     int
	changedCount int
	removedCount int

	// marked holds the (role,name,nth?) keys whose lines get a * prefix.
	marked map[string]bool

	// removedKeys lists identities that disappeared, for the trailer.
	removedKeys []string
}

// diffCache remembers the previous ref map per session id.
type diffCache struct {
	cache *lru.Cache[string, RefMap]
}

func newDiffCache() (*diffCache, error) {
	c, err := lru.New[string, RefMap](diffCacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating diff cache: %w", err)
	}
	return &diffCache{cache: c}, nil
}

func (d *diffCache) forget(sessionID string) {
	d.cache.Remove(sessionID)
}

// diff compares refs against the session's previous map, stores refs as
// the new baseline, and reports what changed. Identity is the
// (role, name, nth?) key; "changed" means the key survived but its
// locator or role differs.
func (d *diffCache) diff(sessionID string, refs RefMap) diffResult {
	prev, hadPrev := d.cache.Get(sessionID)
	d.cache.Add(sessionID, refs)

	res := diffResult{marked: make(map[string]bool)}
	if !hadPrev {
		// First snapshot of the session: no baseline, nothing to report.
		return res
	}

	prevByKey := make(map[string]RefEntry, len(prev))
	for _, r := range prev {
		prevByKey[r.Key()] = r
	}
	curByKey := make(map[string]RefEntry, len(refs))
	for _, r := range refs {
		curByKey[r.Key()] = r
	}

	for key, cur := range curByKey {
		old, ok := prevByKey[key]
		if !ok {
			res.newCount++
			res.marked[key] = true
			continue
		}
		if old.Selector != cur.Selector || old.Role != cur.Role {
			res.changedCount++
			res.marked[key] = true
		}
	}
	for key := range prevByKey {
		if _, ok := curByKey[key]; !ok {
			res.removedCount++
			res.removedKeys = append(res.removedKeys, key)
		}
	}
	sort.Strings(res.removedKeys)
	return res
}

// annotate prefixes new/changed lines with * and appends the removed
// section when anything disappeared.
func annotate(lines []treeLine, refs RefMap, diff diffResult) []treeLine {
	if len(diff.marked) > 0 {
		for i, l := range lines {
			if l.ref == "" {
				continue
			}
			entry, ok := refs[l.ref]
			if !ok {
				continue
			}
			if diff.marked[entry.Key()] {
				lines[i].text = "*" + l.text
			}
		}
	}

	if len(diff.removedKeys) > 0 {
		lines = append(lines, treeLine{text: ""})
		lines = append(lines, treeLine{text: fmt.Sprintf("Removed since last snapshot (%d):", len(diff.removedKeys))})
		for _, key := range diff.removedKeys {
			lines = append(lines, treeLine{text: "  - " + strings.TrimSuffix(key, ":")})
		}
	}
	return lines
}

package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// domainTierCacheSize bounds the in-memory tier cache.
const domainTierCacheSize = 512

// DomainTiers is the global domain -> working-tier cache shared across
// profiles. Lookups hit an in-memory LRU first and fall back to the JSON
// file under the profile root; writes go through to disk.
type DomainTiers struct {
	mu     sync.Mutex
	path   string
	memory *lru.Cache[string, int]
}

// NewDomainTiers creates the cache persisted at <root>/domain_tiers.json.
func NewDomainTiers(root string) (*DomainTiers, error) {
	memory, err := lru.New[string, int](domainTierCacheSize)
	if err != nil {
		return nil, fmt.Errorf("profile: creating tier LRU: %w", err)
	}
	return &DomainTiers{
		path:   filepath.Join(root, "domain_tiers.json"),
		memory: memory,
	}, nil
}

// Get returns the cached tier for a domain, or 0 when unknown.
func (d *DomainTiers) Get(domain string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if tier, ok := d.memory.Get(domain); ok {
		return tier
	}
	all, err := d.readAll()
	if err != nil {
		return 0
	}
	tier := all[domain]
	if tier != 0 {
		d.memory.Add(domain, tier)
	}
	return tier
}

// Set records which tier works for a domain and persists it.
func (d *DomainTiers) Set(domain string, tier int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	all, err := d.readAll()
	if err != nil {
		all = map[string]int{}
	}
	all[domain] = tier
	d.memory.Add(domain, tier)

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshalling domain tiers: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("profile: creating tier cache dir: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0o600); err != nil {
		return fmt.Errorf("profile: writing domain tiers: %w", err)
	}
	return nil
}

func (d *DomainTiers) readAll() (map[string]int, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, err
	}
	all := map[string]int{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("profile: parsing domain tiers: %w", err)
	}
	return all, nil
}

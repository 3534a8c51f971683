// Package fingerprint maintains one consistent browser identity per
// domain. Detection systems flag randomization as suspicious; an
// authentic identity reused across visits is less detectable than a
// fresh one every launch. Identities rotate only when they accumulate
// blocks.
package fingerprint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	mrand "math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/store"
)

// Browser market share by region, used to weight identity generation.
var marketShare = map[string]map[string]float64{
	"us": {"chrome": 0.65, "safari": 0.20, "edge": 0.10, "firefox": 0.05},
	"uk": {"chrome": 0.60, "safari": 0.25, "edge": 0.10, "firefox": 0.05},
	"de": {"chrome": 0.50, "firefox": 0.25, "safari": 0.15, "edge": 0.10},
	"fr": {"chrome": 0.55, "firefox": 0.20, "safari": 0.15, "edge": 0.10},
	"jp": {"chrome": 0.70, "safari": 0.15, "edge": 0.10, "firefox": 0.05},
	"cn": {"chrome": 0.60, "edge": 0.25, "firefox": 0.10, "safari": 0.05},
	"au": {"chrome": 0.60, "safari": 0.25, "edge": 0.10, "firefox": 0.05},
	"br": {"chrome": 0.75, "edge": 0.15, "firefox": 0.07, "safari": 0.03},
	"in": {"chrome": 0.80, "edge": 0.10, "firefox": 0.07, "safari": 0.03},
}

var browserVersions = map[string][]string{
	"chrome":  {"141", "142", "143", "144"},
	"firefox": {"134", "135", "136"},
	"safari":  {"17.5", "18"},
	"edge":    {"139", "140", "141"},
}

var platformsByBrowser = map[string][]string{
	"chrome":  {"Win32", "Linux x86_64", "MacIntel"},
	"firefox": {"Win32", "Linux x86_64", "MacIntel"},
	"safari":  {"MacIntel"},
	"edge":    {"Win32"},
}

var acceptLanguageByGeo = map[string]string{
	"us": "en-US,en;q=0.9",
	"uk": "en-GB,en;q=0.9",
	"de": "de-DE,de;q=0.9,en;q=0.8",
	"fr": "fr-FR,fr;q=0.9,en;q=0.8",
	"jp": "ja-JP,ja;q=0.9,en;q=0.8",
	"cn": "zh-CN,zh;q=0.9,en;q=0.8",
	"au": "en-AU,en;q=0.9",
	"br": "pt-BR,pt;q=0.9,en;q=0.8",
	"in": "en-IN,en;q=0.9,hi;q=0.8",
}

// Rotation policy: an identity is abandoned when blocks dominate or it
// ages out while still collecting blocks.
const (
	rotateBlockRate = 0.5
	rotateMinUses   = 3
	rotateMaxAge    = 7 * 24 * time.Hour
)

// Manager hands out and rotates per-domain identities backed by the
// SQLite store.
type Manager struct {
	store *store.Store
}

// NewManager creates a Manager over st.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// GetOrCreate returns the current identity for a domain, creating one
// weighted by the geo's browser market share when none exists.
func (m *Manager) GetOrCreate(domainOrURL, geo string) (*store.FingerprintRow, error) {
	domain := normalizeDomain(domainOrURL)
	existing, err := m.store.GetFingerprintForDomain(domain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return m.create(domain, geo)
}

// RecordUsage bumps the identity's counters after a page outcome.
func (m *Manager) RecordUsage(id string, success bool) error {
	return m.store.RecordFingerprintUsage(id, success)
}

// ShouldRotate reports whether an identity has burned out: block rate
// above the threshold with enough uses, or old with any blocks at all.
func (m *Manager) ShouldRotate(id string) (bool, error) {
	fp, err := m.store.GetFingerprint(id)
	if err != nil || fp == nil {
		return false, err
	}
	if fp.UseCount >= rotateMinUses && blockRate(fp) > rotateBlockRate {
		return true, nil
	}
	if time.Since(fp.CreatedAt) > rotateMaxAge && fp.BlockCount > 0 {
		return true, nil
	}
	return false, nil
}

// Rotate deletes the identity and mints a fresh one for its domain.
func (m *Manager) Rotate(id string) (*store.FingerprintRow, error) {
	fp, err := m.store.GetFingerprint(id)
	if err != nil {
		return nil, err
	}
	if fp == nil {
		return nil, fmt.Errorf("fingerprint: %s not found", id)
	}
	if _, err := m.store.DeleteFingerprint(id); err != nil {
		return nil, err
	}
	return m.create(fp.Domain, fp.Geo)
}

// FirefoxPrefs renders the identity as Firefox preference overrides for
// the anti-detect tier.
func FirefoxPrefs(fp *store.FingerprintRow) map[string]any {
	if fp == nil {
		return nil
	}
	return map[string]any{
		"general.useragent.override":     fp.UserAgent,
		"general.platform.override":      fp.Platform,
		"intl.accept_languages":          fp.AcceptLanguage,
	}
}

func (m *Manager) create(domain, geo string) (*store.FingerprintRow, error) {
	if _, ok := marketShare[geo]; !ok {
		geo = "us"
	}
	browser := pickWeighted(marketShare[geo])
	versions := browserVersions[browser]
	version := versions[mrand.Intn(len(versions))]
	platforms := platformsByBrowser[browser]
	platform := platforms[mrand.Intn(len(platforms))]

	row := store.FingerprintRow{
		FingerprintID:  newID(),
		Domain:         domain,
		Browser:        browser,
		BrowserVersion: version,
		UserAgent:      userAgent(browser, version, platform),
		AcceptLanguage: acceptLanguageByGeo[geo],
		Platform:       platform,
		Geo:            geo,
		CreatedAt:      time.Now(),
		LastUsed:       time.Now(),
	}
	if err := m.store.SaveFingerprint(row); err != nil {
		return nil, err
	}
	return &row, nil
}

func blockRate(fp *store.FingerprintRow) float64 {
	total := fp.SuccessCount + fp.BlockCount
	if total == 0 {
		return 0
	}
	return float64(fp.BlockCount) / float64(total)
}

func pickWeighted(weights map[string]float64) string {
	r := mrand.Float64()
	acc := 0.0
	last := "chrome"
	for name, w := range weights {
		acc += w
		last = name
		if r <= acc {
			return name
		}
	}
	return last
}

func userAgent(browser, version, platform string) string {
	osPart := "Windows NT 10.0; Win64; x64"
	switch platform {
	case "Linux x86_64":
		osPart = "X11; Linux x86_64"
	case "MacIntel":
		osPart = "Macintosh; Intel Mac OS X 10_15_7"
	}
	switch browser {
	case "firefox":
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s.0) Gecko/20100101 Firefox/%s.0", osPart, version, version)
	case "safari":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", version)
	case "edge":
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36 Edg/%s.0.0.0", osPart, version, version)
	default:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", osPart, version)
	}
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a random integer id; collisions are harmless here.
		n, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
		return fmt.Sprintf("fp-%d", n)
	}
	return "fp-" + hex.EncodeToString(buf)
}

func normalizeDomain(domainOrURL string) string {
	if strings.Contains(domainOrURL, "://") {
		if u, err := url.Parse(domainOrURL); err == nil && u.Host != "" {
			return strings.ToLower(u.Host)
		}
	}
	return strings.ToLower(strings.TrimPrefix(domainOrURL, "www."))
}

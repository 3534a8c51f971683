// Package detect classifies anti-bot protection. The pre-navigation
// profile is advisory: a known-site table plus header and HTML pattern
// matching recommends a minimum stealth tier. The post-navigation
// IsBlocked check is a lightweight heuristic over page title and a
// short body sample.
package detect

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
)

// SiteProfile describes detected protection and the recommended approach.
type SiteProfile struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`

	Antibot           string  `json:"antibot,omitempty"`
	AntibotConfidence float64 `json:"antibot_confidence"`

	// JA4T transport-layer fingerprinting exposure.
	UsesJA4T       bool    `json:"uses_ja4t"`
	JA4TConfidence float64 `json:"ja4t_confidence"`

	HasStaticData     bool   `json:"has_static_data"`
	DetectedFramework string `json:"detected_framework,omitempty"`

	RecommendedTier int  `json:"recommended_tier"`
	NeedsProxy      bool `json:"needs_proxy"`
	NeedsSticky     bool `json:"needs_sticky"`

	MatchedPattern string `json:"matched_pattern,omitempty"`
	DetectedVia    string `json:"detected_via,omitempty"`
}

// siteEntry is one row of the known-site table.
type siteEntry struct {
	antibot string
	tier    int
	proxy   bool
	sticky  bool
	ja4t    bool
	ja4tSus bool
}

// siteProfiles is keyed by domain-substring pattern.
var siteProfiles = map[string]siteEntry{
	// E-commerce (heavy anti-bot with JA4T)
	"amazon.":  {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
	"ebay.":    {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"walmart.": {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"target.":  {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"bestbuy.": {antibot: "akamai", tier: 3, proxy: true, ja4t: true},

	// Social media
	"linkedin.":  {antibot: "datadome", tier: 3, proxy: true, sticky: true, ja4t: true},
	"twitter.":   {antibot: "cloudflare", tier: 2, proxy: true},
	"x.com":      {antibot: "cloudflare", tier: 2, proxy: true},
	"facebook.":  {antibot: "custom", tier: 3, proxy: true, ja4t: true},
	"instagram.": {antibot: "custom", tier: 3, proxy: true, ja4t: true},

	// Tech/Reviews
	"g2.com":     {antibot: "datadome", tier: 3, proxy: true, ja4t: true},
	"trustpilot.": {antibot: "cloudflare", tier: 2, proxy: true},
	"glassdoor.": {antibot: "cloudflare", tier: 2, proxy: true},

	// Travel
	"booking.com": {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"airbnb.":     {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"expedia.":    {antibot: "akamai", tier: 3, proxy: true, ja4t: true},

	// Real estate
	"zillow.":  {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"redfin.":  {antibot: "cloudflare", tier: 2, proxy: true},
	"realtor.": {antibot: "akamai", tier: 3, proxy: true},

	// Job boards
	"indeed.":  {antibot: "cloudflare", tier: 2, proxy: true},
	"monster.": {antibot: "cloudflare", tier: 2, proxy: true},

	// News (often paywalled)
	"nytimes.":   {antibot: "cloudflare", tier: 2},
	"wsj.":       {antibot: "akamai", tier: 2},
	"bloomberg.": {antibot: "cloudflare", tier: 2},

	// Google services
	"google.":  {antibot: "custom", tier: 2, proxy: true, ja4tSus: true},
	"youtube.": {antibot: "custom", tier: 2, proxy: true, ja4tSus: true},

	// Financial (heavy security)
	"paypal.":        {antibot: "custom", tier: 3, proxy: true, sticky: true, ja4t: true},
	"chase.":         {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
	"bankofamerica.": {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
}

// antibotHeaders maps response-header prefixes to vendors.
var antibotHeaders = map[string]string{
	"cf-ray":              "cloudflare",
	"cf-cache-status":     "cloudflare",
	"x-datadome":          "datadome",
	"x-datadome-cid":      "datadome",
	"x-akamai-transformed": "akamai",
	"akamai-grn":          "akamai",
	"x-px-":               "perimeterx",
}

// antibotHTMLPatterns maps vendors to HTML markers.
var antibotHTMLPatterns = map[string][]string{
	"cloudflare": {
		`cf-browser-verification`,
		`cdn-cgi/challenge-platform`,
		`__cf_chl_`,
		`Cloudflare Ray ID`,
		`Just a moment\.\.\.`,
	},
	"cloudflare_uam": {
		`Checking your browser before accessing`,
		`This process is automatic`,
		`Please Wait\.\.\. \| Cloudflare`,
	},
	"datadome": {
		`datadome\.co`,
		`dd\.js`,
		`window\.ddjskey`,
	},
	"akamai": {
		`_abck`,
		`bm_sz`,
		`ak_bmsc`,
	},
	"perimeterx": {
		`_px3`,
		`_pxff_`,
		`px-captcha`,
	},
}

// Profile classifies a URL with optional HTML and response headers.
func Profile(rawURL string, html string, headers map[string]string) *SiteProfile {
	parsed, err := url.Parse(rawURL)
	domain := ""
	if err == nil {
		domain = strings.ToLower(parsed.Host)
	}

	p := &SiteProfile{URL: rawURL, Domain: domain, RecommendedTier: 1}

	// Known sites.
	for pattern, entry := range siteProfiles {
		if !strings.Contains(domain, pattern) {
			continue
		}
		p.Antibot = entry.antibot
		p.RecommendedTier = entry.tier
		p.NeedsProxy = entry.proxy
		p.NeedsSticky = entry.sticky
		p.AntibotConfidence = 0.9
		p.MatchedPattern = pattern
		if entry.ja4t {
			p.UsesJA4T = true
			p.JA4TConfidence = 0.9
		} else if entry.ja4tSus {
			p.UsesJA4T = true
			p.JA4TConfidence = 0.6
		}
		break
	}

	// Header-based detection when no known pattern matched.
	if p.Antibot == "" && len(headers) > 0 {
		for header, vendor := range antibotHeaders {
			for h := range headers {
				if strings.Contains(strings.ToLower(h), header) {
					p.Antibot = vendor
					p.AntibotConfidence = 0.7
					p.DetectedVia = "headers"
					break
				}
			}
			if p.Antibot != "" {
				break
			}
		}
	}

	// HTML-based detection.
	if p.Antibot == "" && html != "" {
		for vendor, patterns := range antibotHTMLPatterns {
			for _, pattern := range patterns {
				if matched, _ := regexp.MatchString(`(?i)`+pattern, html); matched {
					p.Antibot = vendor
					p.AntibotConfidence = 0.8
					p.DetectedVia = "html"
					break
				}
			}
			if p.Antibot != "" {
				break
			}
		}
	}

	if html != "" {
		p.HasStaticData = hasStaticData(html)
		p.DetectedFramework = detectFramework(html)
	}

	// Tier recommendation from the anti-bot classification.
	if p.Antibot != "" {
		switch p.Antibot {
		case "akamai", "datadome", "perimeterx", "cloudflare_uam":
			p.RecommendedTier = 3
			p.NeedsProxy = true
		case "cloudflare":
			if p.RecommendedTier < 2 {
				p.RecommendedTier = 2
			}
			p.NeedsProxy = true
		default:
			if p.RecommendedTier < 2 {
				p.RecommendedTier = 2
			}
		}
	}

	// JA4T needs at least tier 2.
	if p.UsesJA4T && p.JA4TConfidence > 0.5 {
		if p.RecommendedTier < 2 {
			p.RecommendedTier = 2
		}
		p.NeedsProxy = true
	}

	return p
}

// IsBlocked checks whether the current page shows a block or challenge.
// Returns the protection type ("cloudflare", "datadome", "perimeterx",
// "generic", "captcha") or empty when the page looks fine.
func IsBlocked(ctx context.Context, page browser.Page) string {
	title, err := page.Title()
	if err != nil {
		return ""
	}
	titleLower := strings.ToLower(title)
	urlLower := strings.ToLower(page.URL())

	if strings.Contains(titleLower, "just a moment") || strings.Contains(titleLower, "attention required") {
		return "cloudflare"
	}
	if strings.Contains(titleLower, "datadome") {
		return "datadome"
	}
	if strings.Contains(titleLower, "access denied") || strings.Contains(urlLower, "px-captcha") {
		return "perimeterx"
	}
	for _, marker := range []string{"access denied", "403 forbidden", "blocked"} {
		if strings.Contains(titleLower, marker) {
			return "generic"
		}
	}

	// Small visible-text sample for CAPTCHA wording.
	evalCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	raw, err := page.Evaluate(evalCtx, "document.body ? document.body.innerText.substring(0, 500) : ''")
	if err != nil {
		return ""
	}
	sample, _ := raw.(string)
	sampleLower := strings.ToLower(sample)
	if strings.Contains(sampleLower, "captcha") || strings.Contains(sampleLower, "verify you are human") {
		return "captcha"
	}

	return ""
}

// hasStaticData checks for embedded state extractable without JS.
func hasStaticData(html string) bool {
	indicators := []string{
		"__NEXT_DATA__",
		"__NUXT__",
		"application/ld+json",
		"__APOLLO_STATE__",
		"__INITIAL_STATE__",
		"__PRELOADED_STATE__",
	}
	for _, ind := range indicators {
		if strings.Contains(html, ind) {
			return true
		}
	}
	return false
}

// detectFramework sniffs the frontend framework from HTML markers.
func detectFramework(html string) string {
	switch {
	case strings.Contains(html, "__NEXT_DATA__"):
		return "nextjs"
	case strings.Contains(html, "__NUXT__"):
		return "nuxt"
	case strings.Contains(html, "__remixContext"):
		return "remix"
	case strings.Contains(html, "__GATSBY"):
		return "gatsby"
	case strings.Contains(html, "ng-version"):
		return "angular"
	case strings.Contains(html, "data-reactroot") || strings.Contains(html, "data-react-"):
		return "react"
	}
	return ""
}

package detect

import (
	"context"
	"testing"

	"github.com/allaspectsdev/browserd/internal/browser/browsertest"
)

// ---------------------------------------------------------------------------
// Pre-navigation profiles
// ---------------------------------------------------------------------------

func TestProfile_KnownSites(t *testing.T) {
	cases := []struct {
		url     string
		antibot string
		tier    int
		proxy   bool
	}{
		{"https://www.linkedin.com/in/someone", "datadome", 3, true},
		{"https://www.amazon.com/dp/B000", "akamai", 3, true},
		{"https://twitter.com/user", "cloudflare", 2, true},
		{"https://www.booking.com/hotel", "perimeterx", 3, true},
	}
	for _, tc := range cases {
		p := Profile(tc.url, "", nil)
		if p.Antibot != tc.antibot {
			t.Errorf("%s antibot = %q, want %q", tc.url, p.Antibot, tc.antibot)
		}
		if p.RecommendedTier != tc.tier {
			t.Errorf("%s tier = %d, want %d", tc.url, p.RecommendedTier, tc.tier)
		}
		if p.NeedsProxy != tc.proxy {
			t.Errorf("%s proxy = %v, want %v", tc.url, p.NeedsProxy, tc.proxy)
		}
	}
}

func TestProfile_UnknownSiteDefaultsTier1(t *testing.T) {
	p := Profile("https://smallblog.example/", "", nil)
	if p.Antibot != "" || p.RecommendedTier != 1 || p.NeedsProxy {
		t.Errorf("profile = %+v, want clean tier-1", p)
	}
}

func TestProfile_HeaderDetection(t *testing.T) {
	p := Profile("https://unknown.example/", "", map[string]string{
		"CF-Ray": "8500abc-IAD",
	})
	if p.Antibot != "cloudflare" {
		t.Errorf("antibot = %q, want cloudflare", p.Antibot)
	}
	if p.DetectedVia != "headers" {
		t.Errorf("detected_via = %q", p.DetectedVia)
	}
	if p.RecommendedTier < 2 {
		t.Errorf("tier = %d, want >= 2", p.RecommendedTier)
	}
}

func TestProfile_HTMLDetection(t *testing.T) {
	p := Profile("https://unknown.example/", `<html><script src="/cdn-cgi/challenge-platform/x.js"></script></html>`, nil)
	if p.Antibot != "cloudflare" {
		t.Errorf("antibot = %q, want cloudflare", p.Antibot)
	}
	if p.DetectedVia != "html" {
		t.Errorf("detected_via = %q", p.DetectedVia)
	}
}

func TestProfile_JA4TForcesTier2(t *testing.T) {
	p := Profile("https://www.google.com/search", "", nil)
	if !p.UsesJA4T {
		t.Error("google should be JA4T-suspected")
	}
	if p.RecommendedTier < 2 {
		t.Errorf("tier = %d, want >= 2", p.RecommendedTier)
	}
}

func TestProfile_FrameworkAndStaticData(t *testing.T) {
	html := `<script id="__NEXT_DATA__" type="application/json">{}</script>`
	p := Profile("https://shop.example/", html, nil)
	if !p.HasStaticData {
		t.Error("__NEXT_DATA__ should flag static data")
	}
	if p.DetectedFramework != "nextjs" {
		t.Errorf("framework = %q", p.DetectedFramework)
	}
}

// ---------------------------------------------------------------------------
// Post-navigation blocking heuristic
// ---------------------------------------------------------------------------

func blockedPage(title, bodySample string) *browsertest.FakePage {
	ctx := browsertest.NewFakeContext()
	p := browsertest.NewFakePage("https://example.com/", title)
	p.EvaluateFunc = func(js string, args ...any) (any, error) {
		return bodySample, nil
	}
	ctx.AddPage(p)
	return p
}

func TestIsBlocked(t *testing.T) {
	cases := []struct {
		title string
		body  string
		want  string
	}{
		{"Just a moment...", "", "cloudflare"},
		{"Attention Required! | Cloudflare", "", "cloudflare"},
		{"DataDome Device Check", "", "datadome"},
		{"Access Denied", "", "perimeterx"},
		{"403 Forbidden", "", "generic"},
		{"Totally Normal Page", "please verify you are human to continue", "captcha"},
		{"Example Domain", "This domain is for use in examples.", ""},
	}
	for _, tc := range cases {
		got := IsBlocked(context.Background(), blockedPage(tc.title, tc.body))
		if got != tc.want {
			t.Errorf("IsBlocked(title=%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

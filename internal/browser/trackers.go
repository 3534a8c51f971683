package browser

// TrackerPatterns are URL globs aborted on the stealth tiers (2 and 3).
// Blocking analytics, fingerprinter, and tracker endpoints both reduces
// noise and removes scripts that probe for automation. The list is a
// policy, not a contract.
var TrackerPatterns = []string{
	"**/analytics.js",
	"**/gtag/js*",
	"**/ga.js",
	"**/fingerprint*.js",
	"**/fp.js",
	"**/tracking*.js",
	"**/pixel*.js",
	"**/beacon*.js",
	"**/collect*",
	"**/_vercel/insights/**",
	"**/clarity.js",
	"**/hotjar*.js",
	"**/hj-*.js",
	"**/fullstory*.js",
	"**/mouseflow*.js",
	"**/cdn.segment.com/**",
	"**/cdn.amplitude.com/**",
	"**/cdn.mxpnl.com/**",
	"**/sentry.io/**",
	"**/browser-intake-datadoghq.com/**",
	"**/google-analytics.com/**",
	"**/googletagmanager.com/**",
	"**/connect.facebook.net/**",
	"**/googlesyndication.com/**",
	"**/doubleclick.net/**",
}

package config

// GeoProfile pairs a timezone with a locale so a browser context never
// advertises contradictory location signals.
type GeoProfile struct {
	Timezone string
	Locale   string
}

// GeoProfiles maps short geo codes to timezone/locale pairs.
var GeoProfiles = map[string]GeoProfile{
	"us":    {Timezone: "America/New_York", Locale: "en-US"},
	"us-ny": {Timezone: "America/New_York", Locale: "en-US"},
	"us-la": {Timezone: "America/Los_Angeles", Locale: "en-US"},
	"us-tx": {Timezone: "America/Chicago", Locale: "en-US"},
	"de":    {Timezone: "Europe/Berlin", Locale: "de-DE"},
	"uk":    {Timezone: "Europe/London", Locale: "en-GB"},
	"fr":    {Timezone: "Europe/Paris", Locale: "fr-FR"},
	"jp":    {Timezone: "Asia/Tokyo", Locale: "ja-JP"},
	"cn":    {Timezone: "Asia/Shanghai", Locale: "zh-CN"},
	"au":    {Timezone: "Australia/Sydney", Locale: "en-AU"},
	"br":    {Timezone: "America/Sao_Paulo", Locale: "pt-BR"},
	"in":    {Timezone: "Asia/Kolkata", Locale: "en-IN"},
}

// Geo returns the timezone/locale pair for the configured geo code,
// falling back to America/New_York + en-US when unset or unknown.
func (c *Config) Geo() GeoProfile {
	if p, ok := GeoProfiles[c.Browser.Geo]; ok {
		return p
	}
	return GeoProfile{Timezone: "America/New_York", Locale: "en-US"}
}

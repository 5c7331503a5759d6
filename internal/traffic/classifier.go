// Package traffic derives {source, medium} attribution from referrer URLs and
// UTM parameters. Classification is a pure function over static rule tables so
// the same inputs always produce the same attribution, at ingestion time and
// on any later re-classification.
package traffic

import (
	"net/url"
	"strings"
)

// Medium labels produced by classification.
const (
	MediumNone     = "none"
	MediumOrganic  = "organic"
	MediumSocial   = "social"
	MediumReferral = "referral"
	MediumCampaign = "campaign"
	MediumUnknown  = "unknown"
)

// Source labels for the non-referrer cases.
const (
	SourceDirect  = "direct"
	SourceUnknown = "unknown"
)

// UTMParams carries the campaign tagging fields of an event payload.
type UTMParams struct {
	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string
}

// Classification is the attribution result persisted on every event.
type Classification struct {
	Source       string
	Medium       string
	ReferrerHost string
}

type sourceEntry struct {
	source string
	medium string
}

// Referrer hostnames with a fixed classification. Lookup strips a leading
// "www." and falls back to suffix matching, so subdomains inherit their
// parent's entry.
var knownSources = map[string]sourceEntry{
	// Search engines
	"google.com":        {"google", MediumOrganic},
	"google.co.uk":      {"google", MediumOrganic},
	"google.de":         {"google", MediumOrganic},
	"google.fr":         {"google", MediumOrganic},
	"google.es":         {"google", MediumOrganic},
	"google.it":         {"google", MediumOrganic},
	"google.ca":         {"google", MediumOrganic},
	"google.com.au":     {"google", MediumOrganic},
	"google.co.jp":      {"google", MediumOrganic},
	"google.com.br":     {"google", MediumOrganic},
	"bing.com":          {"bing", MediumOrganic},
	"duckduckgo.com":    {"duckduckgo", MediumOrganic},
	"yahoo.com":         {"yahoo", MediumOrganic},
	"baidu.com":         {"baidu", MediumOrganic},
	"yandex.ru":         {"yandex", MediumOrganic},
	"yandex.com":        {"yandex", MediumOrganic},
	"ecosia.org":        {"ecosia", MediumOrganic},
	"kagi.com":          {"kagi", MediumOrganic},
	"qwant.com":         {"qwant", MediumOrganic},
	"startpage.com":     {"startpage", MediumOrganic},
	"search.brave.com":  {"brave", MediumOrganic},

	// Social networks
	"x.com":           {"x", MediumSocial},
	"twitter.com":     {"twitter", MediumSocial},
	"t.co":            {"twitter", MediumSocial},
	"facebook.com":    {"facebook", MediumSocial},
	"fb.com":          {"facebook", MediumSocial},
	"l.facebook.com":  {"facebook", MediumSocial},
	"lm.facebook.com": {"facebook", MediumSocial},
	"instagram.com":   {"instagram", MediumSocial},
	"l.instagram.com": {"instagram", MediumSocial},
	"linkedin.com":    {"linkedin", MediumSocial},
	"lnkd.in":         {"linkedin", MediumSocial},
	"tiktok.com":      {"tiktok", MediumSocial},
	"pinterest.com":   {"pinterest", MediumSocial},
	"threads.net":     {"threads", MediumSocial},
	"bsky.app":        {"bluesky", MediumSocial},
	"mastodon.social": {"mastodon", MediumSocial},
	"youtube.com":     {"youtube", MediumSocial},
	"youtu.be":        {"youtube", MediumSocial},
	"snapchat.com":    {"snapchat", MediumSocial},
	"whatsapp.com":    {"whatsapp", MediumSocial},
	"telegram.org":    {"telegram", MediumSocial},
	"t.me":            {"telegram", MediumSocial},

	// Launch boards and link-aggregator communities
	"news.ycombinator.com": {"hackernews", MediumReferral},
	"hn.algolia.com":       {"hackernews", MediumReferral},
	"lobste.rs":            {"lobsters", MediumReferral},
	"producthunt.com":      {"producthunt", MediumReferral},
	"indiehackers.com":     {"indiehackers", MediumReferral},
	"reddit.com":           {"reddit", MediumReferral},
	"old.reddit.com":       {"reddit", MediumReferral},
	"slashdot.org":         {"slashdot", MediumReferral},
	"devhunt.org":          {"devhunt", MediumReferral},
}

// Classify derives attribution from a referrer URL and UTM parameters.
// Priority order: explicit UTM tagging wins over referrer inference, referrer
// table rules win over the generic hostname fallback, and a malformed
// referrer yields {unknown, unknown} rather than an error.
func Classify(referrerURL string, utm UTMParams) Classification {
	host, malformed := referrerHost(referrerURL)

	// Explicit tagging wins over inference.
	if utm.Source != "" {
		medium := utm.Medium
		if medium == "" {
			medium = MediumCampaign
		}
		return Classification{Source: utm.Source, Medium: medium, ReferrerHost: host}
	}
	if utm.Medium != "" {
		source := SourceDirect
		switch {
		case malformed:
			source = SourceUnknown
		case host != "":
			if entry, ok := lookupHost(host); ok {
				source = entry.source
			} else {
				source = host
			}
		}
		return Classification{Source: source, Medium: utm.Medium, ReferrerHost: host}
	}

	if malformed {
		return Classification{Source: SourceUnknown, Medium: MediumUnknown}
	}
	if host == "" {
		return Classification{Source: SourceDirect, Medium: MediumNone}
	}

	if entry, ok := lookupHost(host); ok {
		return Classification{Source: entry.source, Medium: entry.medium, ReferrerHost: host}
	}
	return Classification{Source: host, Medium: MediumReferral, ReferrerHost: host}
}

// referrerHost extracts the normalized hostname of a referrer URL. The second
// return value reports a malformed referrer: non-empty input that does not
// parse to a host.
func referrerHost(referrerURL string) (string, bool) {
	trimmed := strings.TrimSpace(referrerURL)
	if trimmed == "" {
		return "", false
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return "", true
	}
	return NormalizeHost(parsed.Hostname()), false
}

// NormalizeHost lowercases a hostname and strips a leading "www.".
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// lookupHost resolves a normalized hostname against the rule table: exact
// match first, then parent-domain suffix match for subdomains.
func lookupHost(host string) (sourceEntry, bool) {
	if entry, ok := knownSources[host]; ok {
		return entry, true
	}
	for domain, entry := range knownSources {
		if strings.HasSuffix(host, "."+domain) {
			return entry, true
		}
	}
	return sourceEntry{}, false
}

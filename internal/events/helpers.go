package events

import (
	"net"
	"strings"

	"log/slog"

	"sitepulse/internal/pkg/geoip"
	ua "sitepulse/internal/pkg/useragent"
)

// deviceTypeFromParsedUA extracts the device type from a parsed user agent
func deviceTypeFromParsedUA(ua ua.UserAgent) string {
	if ua.Mobile {
		return "mobile"
	}
	if ua.Tablet {
		return "tablet"
	}
	if ua.Desktop {
		return "desktop"
	}
	return UnknownDevice
}

// browserFromParsedUA extracts and normalizes the browser name
func browserFromParsedUA(ua ua.UserAgent) string {
	if ua.Bot || ua.Browser == "" {
		return UnknownBrowser
	}

	browserName := strings.ToLower(ua.Browser)

	switch browserName {
	case "internet explorer":
		return "ie"
	case "mobile safari":
		return "safari"
	case "chrome mobile", "chrome mobile webview":
		return "chrome"
	case "firefox mobile":
		return "firefox"
	case "opera mini", "opera mobile":
		return "opera"
	case "edge mobile":
		return "edge"
	default:
		return browserName
	}
}

// NormalizeOperatingSystem collapses OS name variations into stable labels.
func NormalizeOperatingSystem(os string) string {
	if os == "" {
		return UnknownOS
	}

	osLower := strings.ToLower(os)

	if strings.Contains(osLower, "mac") || strings.Contains(osLower, "darwin") {
		return "macos"
	}
	if strings.Contains(osLower, "ios") || strings.Contains(osLower, "iphone os") {
		return "ios"
	}
	if strings.Contains(osLower, "android") {
		return "android"
	}
	if strings.Contains(osLower, "windows") {
		return "windows"
	}
	if strings.Contains(osLower, "linux") || strings.Contains(osLower, "gnu/linux") {
		return "linux"
	}

	return osLower
}

func osFromParsedUA(ua ua.UserAgent) string {
	if ua.OS != "" {
		return NormalizeOperatingSystem(ua.OS)
	}
	return UnknownOS
}

// CountryFromIP resolves an IP address to a lowercase ISO country code or
// UnknownCountry. Resolution is optional: without a GeoIP database every
// event lands in the unknown bucket.
func CountryFromIP(ipAddress string) string {
	geoDB := geoip.GetGeoDB()
	if geoDB == nil {
		return UnknownCountry
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return UnknownCountry
	}

	record, err := geoDB.Country(ip)
	if err != nil {
		slog.Default().Debug("GeoIP lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return UnknownCountry
	}

	if record.Country.IsoCode == "" || record.Country.IsoCode == "--" {
		return UnknownCountry
	}

	return strings.ToLower(record.Country.IsoCode)
}

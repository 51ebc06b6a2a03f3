package service

import (
	"net"
	"strings"
)

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
)

// ClassifyDevice sorts a user agent into a coarse device type.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return DeviceDesktop
	case containsAny(ua, "bot", "crawler", "spider", "slurp", "curl/", "wget/"):
		return DeviceBot
	case containsAny(ua, "ipad", "tablet", "kindle", "silk/") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		return DeviceTablet
	case containsAny(ua, "mobi", "iphone", "ipod", "android", "windows phone", "blackberry"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// ClassifyBrowser picks the browser family. Order matters: Edge and Opera
// also advertise Chrome, and Chrome advertises Safari.
func ClassifyBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case containsAny(ua, "edg/", "edge/", "edga/", "edgios/"):
		return "Edge"
	case containsAny(ua, "opr/", "opera"):
		return "Opera"
	case containsAny(ua, "chrome/", "crios/", "chromium/"):
		return "Chrome"
	case containsAny(ua, "firefox/", "fxios/"):
		return "Firefox"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case containsAny(ua, "msie ", "trident/"):
		return "IE"
	default:
		return "Other"
	}
}

// ClassifyCountry only distinguishes local traffic; there is no geo lookup.
func ClassifyCountry(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "Unknown"
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
		return "Local"
	}
	return "Unknown"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package domain

import "strings"

// ClientContext is the device/os/browser classification derived from a user agent.
type ClientContext struct {
	Device  string // desktop, mobile, tablet, unknown
	OS      string
	Browser string
}

// DeriveClientContext classifies a raw user agent into coarse device, OS and browser
// buckets. Unknown or empty user agents classify as "unknown" in every field.
func DeriveClientContext(userAgent string) ClientContext {
	ua := strings.ToLower(userAgent)
	if strings.TrimSpace(ua) == "" {
		return ClientContext{Device: "unknown", OS: "unknown", Browser: "unknown"}
	}
	return ClientContext{
		Device:  deriveDevice(ua),
		OS:      deriveOS(ua),
		Browser: deriveBrowser(ua),
	}
}

func deriveDevice(ua string) string {
	switch {
	case strings.Contains(ua, "ipad") || (strings.Contains(ua, "tablet") && !strings.Contains(ua, "mobile")):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		return "mobile"
	case strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") || strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		return "desktop"
	default:
		return "unknown"
	}
}

func deriveOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		return "macos"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "linux") || strings.Contains(ua, "x11"):
		return "linux"
	default:
		return "unknown"
	}
}

func deriveBrowser(ua string) string {
	// Order matters: Edge and Opera UAs also contain "chrome"; Chrome and Safari UAs both contain "safari".
	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	default:
		return "unknown"
	}
}

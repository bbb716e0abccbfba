package services

import (
	"strings"

	"github.com/mileusna/useragent"
)

// DeviceLabel turns a User-Agent into a short label such as
// "Safari 17.0 · iOS 17.1 · Mobile". It is stored next to the persisted
// session and logged when the session is restored.
func DeviceLabel(userAgent string) string {
	if userAgent == "" {
		return "Unknown device"
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		name := ua.Name
		if ua.Version != "" {
			name += " " + ua.Version
		}
		parts = append(parts, name)
	}
	if ua.OS != "" {
		os := ua.OS
		if ua.OSVersion != "" {
			os += " " + ua.OSVersion
		}
		parts = append(parts, os)
	}
	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	}

	if len(parts) == 0 {
		if len(userAgent) > 64 {
			return userAgent[:64] + "..."
		}
		return userAgent
	}

	return strings.Join(parts, " · ")
}

package models

import "strings"

// Location is the current screen's logical path as reported by the
// navigation framework, e.g. "/(auth)/login" or "/modals/body-weight".
type Location struct {
	Segments []string
}

// ParseLocation splits a slash separated path into segments.
// Empty segments are dropped, so "/" yields the root location.
func ParseLocation(path string) Location {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return Location{Segments: segments}
}

// Path renders the location back to its slash form.
func (l Location) Path() string {
	return "/" + strings.Join(l.Segments, "/")
}

// Group returns the first segment, which names the screen group.
func (l Location) Group() string {
	if len(l.Segments) == 0 {
		return ""
	}
	return l.Segments[0]
}

// InGroup reports whether the location belongs to any of the given groups.
func (l Location) InGroup(groups ...string) bool {
	g := l.Group()
	if g == "" {
		return false
	}
	for _, candidate := range groups {
		if candidate == g {
			return true
		}
	}
	return false
}


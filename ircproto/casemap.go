package ircproto

import "strings"

// Fold returns the rfc1459 case-folded form of a nickname or channel name.
// Two names that fold to the same string identify the same entity on the
// server: "{}|^" are the lower-case forms of "[]\~".
func Fold(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		}
		return r
	}, name)
}

// IsChannel reports whether target names a channel rather than a user.
func IsChannel(target string) bool {
	if target == "" {
		return false
	}
	switch target[0] {
	case '#', '&', '+', '!':
		return true
	}
	return false
}

// SplitChannels expands comma separated channel lists ("#a,#b") and drops
// empty entries.
func SplitChannels(channels []string) []string {
	var out []string
	for _, c := range channels {
		for _, part := range strings.Split(c, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

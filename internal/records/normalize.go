package records

import (
	"regexp"
	"strings"
)

var (
	validAgentIDRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidAgentChar = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes       = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeAgentID canonicalizes a caller-provided agent identifier so
// checkpoints from the same agent always index under one id: lowercase,
// max 64 chars, [a-z0-9_-] only, invalid runs collapsed to "-".
func NormalizeAgentID(id string) string {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	if trimmed == "" {
		return ""
	}
	if validAgentIDRe.MatchString(trimmed) {
		return trimmed
	}

	out := invalidAgentChar.ReplaceAllString(trimmed, "-")
	out = edgeDashes.ReplaceAllString(out, "")
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

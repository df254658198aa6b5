// Package ghostwrite turns an @eva compose command into a reviewable draft.
// Drafts are always edited or approved by a human; nothing is sent
// automatically.
package ghostwrite

import "strings"

// TriggerToken starts a drafting command in the compose input.
const TriggerToken = "@eva"

// ParseCommand recognizes a leading trigger token followed by whitespace and
// a non-empty query. The match is case-insensitive; a bare trigger with no
// remainder is not a command.
func ParseCommand(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) <= len(TriggerToken) {
		return "", false
	}
	if !strings.EqualFold(trimmed[:len(TriggerToken)], TriggerToken) {
		return "", false
	}

	rest := trimmed[len(TriggerToken):]
	if rest == strings.TrimLeft(rest, " \t\n") {
		// Trigger not followed by whitespace ("@evax ...").
		return "", false
	}

	query := strings.TrimSpace(rest)
	if query == "" {
		return "", false
	}
	return query, true
}

// Package memoryhint is an optional, best-effort extractor of simple
// remembered facts ("my name is Dana") from a user's request text. It
// is not part of the planning/execution path: a caller may ignore its
// output entirely, and a non-match is never an error.
package memoryhint

import "regexp"

// Fact is one extracted key/value pair, destined for a Session's
// Memory map.
type Fact struct {
	Key   string
	Value string
}

// userNamePattern and agentNamePattern generalize the two-speaker name
// assignment shape: "my name is X" sets who the user is, "your name is
// X" sets what the user wants to call the agent. Each captures a
// single word as the name, so only the first word of a multi-word name
// is kept.
var (
	userNamePattern  = regexp.MustCompile(`(?i)\bmy name(?:'s| is)\s+([A-Za-z][\w'-]*)\b`)
	agentNamePattern = regexp.MustCompile(`(?i)\byour name(?:'s| is)\s+([A-Za-z][\w'-]*)\b`)
	callMePattern    = regexp.MustCompile(`(?i)\bcall me\s+([A-Za-z][\w'-]*)\b`)
)

// Extract scans text for the recognized sentence shapes and returns
// every fact it found. Order is stable (user_name before agent_name)
// but callers should treat the result as a set, not a sequence.
func Extract(text string) []Fact {
	var facts []Fact

	if m := userNamePattern.FindStringSubmatch(text); m != nil {
		facts = append(facts, Fact{Key: "user_name", Value: m[1]})
	} else if m := callMePattern.FindStringSubmatch(text); m != nil {
		facts = append(facts, Fact{Key: "user_name", Value: m[1]})
	}

	if m := agentNamePattern.FindStringSubmatch(text); m != nil {
		facts = append(facts, Fact{Key: "agent_name", Value: m[1]})
	}

	return facts
}

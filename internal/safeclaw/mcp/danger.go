package mcp

import "strings"

// Verbs that mark a tool as mutating. Prefix-matched against tokens so
// "deletes", "updated" and "running" all register.
var dangerousVerbs = []string{
	"write", "delete", "remove", "create", "update", "modify", "set",
	"execute", "run", "send", "post", "push", "deploy", "install",
	"kill", "terminate", "upload", "drop", "insert", "merge", "publish",
}

// Tokens that mark a tool as read-only, matched exactly.
var safeVerbs = map[string]bool{
	"read": true, "list": true, "get": true, "search": true, "fetch": true,
	"query": true, "view": true, "show": true, "status": true,
	"describe": true, "lookup": true, "find": true, "browse": true,
}

// Dangerous classifies a remote tool from its name and description. Any
// mutating verb wins; a read-only verb without one clears the tool; a tool
// saying neither stays dangerous.
func Dangerous(name, description string) bool {
	tokens := tokenize(name + " " + description)
	safe := false
	for _, tok := range tokens {
		for _, verb := range dangerousVerbs {
			if strings.HasPrefix(tok, verb) {
				return true
			}
		}
		if safeVerbs[tok] {
			safe = true
		}
	}
	return !safe
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

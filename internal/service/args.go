package service

import "strings"

// ResolveArgs substitutes placeholder tokens in a command spec with
// staged upload paths. A placeholder is a whole token of the form
// {{name}} where name is an upload field. Unresolved placeholders
// pass through unchanged as literal arguments; the engine then fails
// on them on its own terms.
func ResolveArgs(command []string, uploads map[string]string) []string {
	out := make([]string, len(command))
	for i, tok := range command {
		out[i] = tok
		if name, ok := placeholderName(tok); ok {
			if path, ok := uploads[name]; ok {
				out[i] = path
			}
		}
	}
	return out
}

func placeholderName(tok string) (string, bool) {
	if len(tok) <= 4 || !strings.HasPrefix(tok, "{{") || !strings.HasSuffix(tok, "}}") {
		return "", false
	}
	return tok[2 : len(tok)-2], true
}

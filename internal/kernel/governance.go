package kernel

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// Governance screen: output patterns that reject a response outright and
// penalize the producing agent. These are deliberately coarse; the screen
// exists to catch an agent echoing credentials or smuggling destructive
// shell fragments into tool output that downstream agents might replay.
var unsafeOutputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)-----BEGIN (RSA|EC|OPENSSH) PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*[=:]`),
	regexp.MustCompile(`(?i)rm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)curl[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i):\(\)\s*\{\s*:\|:&\s*\}`),
}

// screenOutput returns a non-empty verdict when a handler's output trips
// the governance screen.
func screenOutput(output interface{}) string {
	if output == nil {
		return ""
	}
	// Marshal without HTML escaping so shell metacharacters like & survive
	// verbatim for the pattern match.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(output); err != nil {
		return ""
	}
	for _, p := range unsafeOutputPatterns {
		if p.Match(buf.Bytes()) {
			return "governance intervention: unsafe output pattern " + p.String()
		}
	}
	return ""
}

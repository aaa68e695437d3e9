package health

import "regexp"

// Health messages often wrap raw driver errors, which tend to embed
// broker and database locations. NewUnhealthyFromError passes every
// message through this table before it can be served.
var redactions = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	// Credential fragments go first so the value is masked even when
	// the surrounding text survives the later patterns.
	{regexp.MustCompile(`(?i)(?:password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
	// Connection URLs before bare paths, which they contain.
	{regexp.MustCompile(`(?:https?|mqtts?|tcp|ssl|wss?|rediss?|postgres(?:ql)?)://\S+`), "[URL]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

func redact(message string) string {
	for _, r := range redactions {
		message = r.pattern.ReplaceAllString(message, r.mask)
	}
	return message
}

package health

import "regexp"

type redaction struct {
	pattern *regexp.Regexp
	with    string
}

// Applied in order. Credentials go first so a secret that looks like a path
// or address is still hidden; URLs go before paths because they contain
// them.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)(password|passwd|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?:https?|nats|tls|wss?)://\S+`), "[URL]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// redact strips addresses, paths and credentials from a connection error
// before it is exposed in a health document.
func redact(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.with)
	}
	return msg
}

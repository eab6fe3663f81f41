package observability

import "strings"

// Redacted replaces the value of a sensitive header.
const Redacted = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"api-key":             true,
	"password":            true,
}

// IsSensitiveHeader reports whether a header value must never be logged.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(name)]
}

// SanitizeHeaders returns a copy of headers with sensitive values replaced.
// The input map is not modified.
func SanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveHeader(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

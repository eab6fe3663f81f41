package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHeaders(t *testing.T) {
	in := map[string]string{
		"authorization": "Bearer secret",
		"Cookie":        "session=abc",
		"x-api-key":     "k",
		"user-agent":    "curl/8.0",
	}

	out := SanitizeHeaders(in)

	assert.Equal(t, Redacted, out["authorization"])
	assert.Equal(t, Redacted, out["Cookie"])
	assert.Equal(t, Redacted, out["x-api-key"])
	assert.Equal(t, "curl/8.0", out["user-agent"])

	// input untouched
	assert.Equal(t, "Bearer secret", in["authorization"])
}

func TestSanitizeHeaders_Nil(t *testing.T) {
	out := SanitizeHeaders(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestIsSensitiveHeader(t *testing.T) {
	assert.True(t, IsSensitiveHeader("Proxy-Authorization"))
	assert.True(t, IsSensitiveHeader("SET-COOKIE"))
	assert.False(t, IsSensitiveHeader("content-type"))
}

package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr string
	}{
		{name: "defaults", level: "", format: ""},
		{name: "json debug", level: "debug", format: "json"},
		{name: "console upper case", level: "WARN", format: "console"},
		{name: "text alias", level: "info", format: "text"},
		{name: "bad level", level: "verbose", format: "json", wantErr: "invalid log level"},
		{name: "bad format", level: "info", format: "xml", wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{
			name:  "unix path",
			input: "failed to open /etc/mantle/config.yaml",
			want:  "failed to open [PATH]",
		},
		{
			name:  "windows path",
			input: `cannot read C:\Users\Admin\config.yaml`,
			want:  "cannot read [PATH]",
		},
		{
			name:  "http url",
			input: "connection failed to https://api.example.com/v1/health",
			want:  "connection failed to [URL]",
		},
		{
			name:  "broker url",
			input: "cannot connect to mqtt://localhost:1883",
			want:  "cannot connect to [URL]",
		},
		{
			name:  "redis url",
			input: "cannot connect to redis://localhost:6379/0",
			want:  "cannot connect to [URL]",
		},
		{
			name:  "postgres url",
			input: "dial postgres://mantle@db.internal:5432/mantle failed",
			want:  "dial [URL] failed",
		},
		{
			name:  "ip address",
			input: "timeout connecting to 192.168.1.100",
			want:  "timeout connecting to [IP]",
		},
		{
			name:  "bare port",
			input: "failed to bind to :8080",
			want:  "failed to bind to [PORT]",
		},
		{
			name:  "credential fragment",
			input: "auth failed with password:secretpass123",
			want:  "auth failed with [REDACTED]",
		},
		{
			name:  "url and credential together",
			input: "failed to connect to https://192.168.1.1:8080/api with token=abc123def",
			want:  "failed to connect to [URL] with [REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redact(tt.input))
		})
	}
}

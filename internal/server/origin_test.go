package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "exact match", allowed: []string{"http://example.com"}, origin: "http://example.com", want: true},
		{name: "case insensitive", allowed: []string{"http://example.com"}, origin: "HTTP://Example.COM", want: true},
		{name: "path ignored", allowed: []string{"http://example.com/app"}, origin: "http://example.com", want: true},
		{name: "port matters", allowed: []string{"http://example.com"}, origin: "http://example.com:8080", want: false},
		{name: "missing header", allowed: []string{"http://example.com"}, origin: "", want: false},
		{name: "malformed origin", allowed: []string{"http://example.com"}, origin: "not-a-url", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "wildcard still needs an origin", allowed: []string{"*"}, origin: "", want: false},
		{name: "empty allow list", allowed: nil, origin: "http://example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.allowed, testLogger())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}
}

package service

import (
	"net/http"
	"strings"
	"testing"

	"edge-proxy-go/internal/route"
)

func entryFor(t *testing.T, rawURL string, headers map[string]string) route.Entry {
	t.Helper()
	table, err := route.Build([]route.Spec{{Path: "/api", URL: rawURL, Headers: headers}})
	if err != nil {
		t.Fatalf("route.Build: %v", err)
	}
	return table.Entries()[0]
}

func TestTransformHeaders(t *testing.T) {
	e := entryFor(t, "http://backend1:8080", map[string]string{
		"X-Api-Version": "2",
		"authorization": "Bearer backend-token",
	})
	in := http.Header{
		"Accept":          {"application/json"},
		"Authorization":   {"Bearer client-token"},
		"X-Api-Version":   {"1"},
		"Cookie":          {"a=1", "b=2"},
		"X-Forwarded-For": {"1.2.3.4, 5.6.7.8"},
		"X-Real-Ip":       {"1.2.3.4"},
		"Forwarded":       {"for=1.2.3.4"},
	}

	out := TransformHeaders(in, e)

	tests := []struct {
		name string
		key  string
		want []string
	}{
		{"inbound header kept", "Accept", []string{"application/json"}},
		{"multi-value header kept", "Cookie", []string{"a=1", "b=2"}},
		{"static header overrides inbound", "X-Api-Version", []string{"2"}},
		{"static header key is case-insensitive", "Authorization", []string{"Bearer backend-token"}},
		{"host points at backend", "Host", []string{"backend1:8080"}},
		{"x-forwarded-for removed", "X-Forwarded-For", nil},
		{"x-real-ip removed", "X-Real-Ip", nil},
		{"forwarded removed", "Forwarded", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := out.Values(tt.key)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("header %q = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	if in.Get("X-Api-Version") != "1" {
		t.Error("TransformHeaders must not mutate the inbound header")
	}
}

func TestTransformHeaders_IdentityHeadersAlwaysRemoved(t *testing.T) {
	// Static headers try to set the identity headers too.
	e := entryFor(t, "http://backend1:8080", map[string]string{
		"x-forwarded-for": "10.0.0.1",
		"X-REAL-IP":       "10.0.0.1",
		"forwarded":       "for=10.0.0.1",
	})
	// Raw, non-canonical keys as a hand-built header map may carry them.
	in := http.Header{
		"x-forwarded-for": {"1.2.3.4"},
		"X-REAL-IP":       {"1.2.3.4"},
		"FORWARDED":       {"for=1.2.3.4"},
	}

	out := TransformHeaders(in, e)

	for key := range out {
		switch strings.ToLower(key) {
		case "x-forwarded-for", "x-real-ip", "forwarded":
			t.Errorf("identity header %q leaked to backend", key)
		}
	}
}

func TestTransformHeaders_HostOverridesInbound(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://backend1:8080", "backend1:8080"},
		{"http://backend1:80/base", "backend1"},
		{"https://secure.example.com", "secure.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			in := http.Header{"Host": {"edge.example.com"}, "host": {"other"}}
			out := TransformHeaders(in, entryFor(t, tt.url, nil))
			if got := out.Values("Host"); len(got) != 1 || got[0] != tt.want {
				t.Errorf("Host = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestTransformHeaders_NoCaseDuplicates(t *testing.T) {
	in := http.Header{
		"x-custom": {"a"},
		"X-Custom": {"b"},
		"X-CUSTOM": {"c"},
	}
	out := TransformHeaders(in, entryFor(t, "http://backend1", nil))

	seen := make(map[string]string)
	for key := range out {
		lower := strings.ToLower(key)
		if prev, dup := seen[lower]; dup {
			t.Errorf("duplicate keys %q and %q", prev, key)
		}
		seen[lower] = key
	}
	if got := len(out.Values("X-Custom")); got != 3 {
		t.Errorf("X-Custom has %d values, want 3 merged values", got)
	}
}

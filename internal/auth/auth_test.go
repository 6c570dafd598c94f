package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- key generation ---

func TestGenerateKey_PrefixAndLength(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("key should start with %q, got %q", KeyPrefix, key)
	}
	// "teambeat_" (9) + 32 random chars = 41
	if len(key) != 41 {
		t.Errorf("expected key length 41, got %d", len(key))
	}
}

func TestGenerateKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() error: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	if len(s) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(s))
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	if HashKey("teambeat_abc") != HashKey("teambeat_abc") {
		t.Error("HashKey should be deterministic")
	}
	if HashKey("teambeat_abc") == HashKey("teambeat_abd") {
		t.Error("different keys should hash differently")
	}
}

// --- verifier ---

func TestVerifier(t *testing.T) {
	v := NewVerifier("teambeat_secret")
	tests := []struct {
		presented string
		want      bool
	}{
		{"teambeat_secret", true},
		{"teambeat_secreT", false},
		{"teambeat_secret ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.presented); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.presented, got, tt.want)
		}
	}

	empty := NewVerifier("")
	if empty.Configured() || empty.Verify("") || empty.Verify("anything") {
		t.Error("empty verifier must reject everything")
	}
}

// --- middleware ---

func protected(t *testing.T, v *Verifier, failures *int) http.Handler {
	t.Helper()
	return AdminKeyMiddleware(v, func() { *failures++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil || p.Kind != Admin {
			t.Errorf("expected admin principal in context, got %+v", p)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAdminKeyMiddleware(t *testing.T) {
	key := "teambeat_0123456789abcdef"
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid key", "Bearer " + key, http.StatusNoContent},
		{"case-insensitive scheme", "bearer " + key, http.StatusNoContent},
		{"wrong key", "Bearer teambeat_wrong", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic " + key, http.StatusUnauthorized},
		{"no token", "Bearer", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := 0
			h := protected(t, NewVerifier(key), &failures)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/teams", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want != http.StatusUnauthorized {
				if failures != 0 {
					t.Errorf("unexpected failure callback")
				}
				return
			}
			if failures != 1 {
				t.Errorf("failure callback ran %d times, want 1", failures)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error.Code != "unauthorized" {
				t.Errorf("expected code unauthorized, got %q", body.Error.Code)
			}
		})
	}
}

func TestAdminKeyMiddleware_NoKeyConfigured(t *testing.T) {
	failures := 0
	h := protected(t, NewVerifier(""), &failures)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/teams", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPrincipalKeyPrefixIsShort(t *testing.T) {
	if got := prefixOf("teambeat_0123456789abcdef"); got != "teambeat_0123" {
		t.Errorf("prefixOf = %q", got)
	}
	if got := prefixOf("tiny"); got != "tiny" {
		t.Errorf("prefixOf = %q", got)
	}
}

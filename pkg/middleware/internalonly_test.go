package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func internalProbe(cfg InternalOnlyConfig, remoteAddr string, header http.Header) int {
	handler := InternalOnly(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/internal/audit-log", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestInternalOnly_DefaultsAllowPrivateRanges(t *testing.T) {
	cfg := InternalOnlyConfig{}

	assert.Equal(t, http.StatusOK, internalProbe(cfg, "127.0.0.1:4321", nil))
	assert.Equal(t, http.StatusOK, internalProbe(cfg, "10.1.2.3:4321", nil))
	assert.Equal(t, http.StatusOK, internalProbe(cfg, "192.168.0.9:4321", nil))
	assert.Equal(t, http.StatusForbidden, internalProbe(cfg, "203.0.113.7:4321", nil))
}

func TestInternalOnly_CustomCIDR(t *testing.T) {
	cfg := InternalOnlyConfig{AllowedCIDRs: []string{"100.64.0.0/10"}}

	assert.Equal(t, http.StatusOK, internalProbe(cfg, "100.64.1.1:4321", nil))
	assert.Equal(t, http.StatusForbidden, internalProbe(cfg, "127.0.0.1:4321", nil))
}

func TestInternalOnly_SharedSecret(t *testing.T) {
	cfg := InternalOnlyConfig{SharedSecret: "s3cret"}

	assert.Equal(t, http.StatusForbidden, internalProbe(cfg, "127.0.0.1:4321", nil))

	good := http.Header{}
	good.Set("X-Internal-Token", "s3cret")
	assert.Equal(t, http.StatusOK, internalProbe(cfg, "127.0.0.1:4321", good))

	bad := http.Header{}
	bad.Set("X-Internal-Token", "wrong")
	assert.Equal(t, http.StatusForbidden, internalProbe(cfg, "127.0.0.1:4321", bad))

	// Secret alone is not enough from outside the allowlist.
	assert.Equal(t, http.StatusForbidden, internalProbe(cfg, "203.0.113.7:4321", good))
}

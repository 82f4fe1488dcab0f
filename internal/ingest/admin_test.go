package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guild-sentinel/internal/ledger"
	"guild-sentinel/internal/policy"
	"guild-sentinel/internal/schema"
)

func newAdminMux() (*http.ServeMux, *policy.Store, *ledger.Ledger) {
	policies := policy.NewStore([]string{"operator-1"})
	lg := ledger.New()
	mux := http.NewServeMux()
	NewAdminHandler(policies, lg).Register(mux)
	return mux, policies, lg
}

func TestGetPolicyDefaults(t *testing.T) {
	mux, _, _ := newAdminMux()

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/tenant-1/policy", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var pol policy.TenantPolicy
	if err := json.Unmarshal(rec.Body.Bytes(), &pol); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pol.Configured {
		t.Error("fresh tenant should report unconfigured")
	}
	if got := pol.Thresholds[schema.ActionMemberBan]; got != 5 {
		t.Errorf("member.ban threshold = %d, want 5", got)
	}
}

func TestSetThresholdEndpoint(t *testing.T) {
	mux, policies, _ := newAdminMux()

	body := strings.NewReader(`{"key":"channel.delete","value":5}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/tenants/tenant-1/thresholds", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := policies.Get("tenant-1").Threshold(schema.ActionChannelDelete); got != 5 {
		t.Errorf("threshold = %d, want 5", got)
	}
}

func TestSetThresholdEndpointRejectsInvalid(t *testing.T) {
	mux, _, _ := newAdminMux()

	tests := []string{
		`{"key":"channel.delete","value":0}`,
		`{"key":"message.delete","value":3}`,
		`{"key":"window","value":-5}`,
	}
	for _, body := range tests {
		req := httptest.NewRequest(http.MethodPut, "/v1/tenants/tenant-1/thresholds", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSetNotificationTargetEndpoint(t *testing.T) {
	mux, policies, _ := newAdminMux()

	body := strings.NewReader(`{"target":"channel-100"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/tenants/tenant-1/notification-target", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := policies.Get("tenant-1").NotificationTarget; got != "channel-100" {
		t.Errorf("target = %q, want channel-100", got)
	}

	// Empty target is rejected.
	req = httptest.NewRequest(http.MethodPut, "/v1/tenants/tenant-1/notification-target", strings.NewReader(`{"target":""}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAddExemptionEndpoint(t *testing.T) {
	mux, policies, _ := newAdminMux()

	body := strings.NewReader(`{"actor_id":"mod-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-1/exemptions", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !policies.IsExempt("tenant-1", "mod-1") {
		t.Error("exemption not applied")
	}
	if policies.IsExempt("tenant-2", "mod-1") {
		t.Error("exemption leaked across tenants")
	}
}

func TestAddGlobalExemptionEndpoint(t *testing.T) {
	mux, policies, _ := newAdminMux()

	body := strings.NewReader(`{"actor_id":"op-2"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/exemptions", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	// Global exemptions apply in every tenant.
	if !policies.IsExempt("tenant-1", "op-2") || !policies.IsExempt("tenant-2", "op-2") {
		t.Error("global exemption not visible across tenants")
	}
	if got := len(policies.GlobalExemptions()); got != 2 {
		t.Errorf("global exemptions = %d, want 2", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/exemptions", strings.NewReader(`{"actor_id":""}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty actor_id: status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	mux, policies, lg := newAdminMux()

	policies.SetNotificationTarget("tenant-1", "channel-1")
	lg.Record(ledger.Key{ActorID: "a", TenantID: "tenant-1", Action: schema.ActionChannelDelete}, 30*time.Second, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Tenants          int `json:"tenants"`
		GlobalExemptions int `json:"global_exemptions"`
		Ledger           struct {
			Keys     int    `json:"keys"`
			Recorded uint64 `json:"recorded"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tenants != 1 {
		t.Errorf("tenants = %d, want 1", resp.Tenants)
	}
	if resp.GlobalExemptions != 1 {
		t.Errorf("global exemptions = %d, want 1", resp.GlobalExemptions)
	}
	if resp.Ledger.Keys != 1 || resp.Ledger.Recorded != 1 {
		t.Errorf("ledger = %+v", resp.Ledger)
	}
}

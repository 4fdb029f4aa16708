package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/draycott/session-core/internal/audit"
)

// adminSession logs in a seeded admin account.
func adminSession(t *testing.T, e *testEnv) *sessionResponse {
	t.Helper()
	e.seedUser(t, "root", "user", "admin")
	session, resp := e.login(t, "root", "test-password")
	if session == nil {
		t.Fatalf("admin login status = %d", resp.StatusCode)
	}
	return session
}

// =============================================================================
// Force Logout Tests
// =============================================================================

func TestForceLogout_RevokesAllUserTokens(t *testing.T) {
	e := newTestEnv(t)
	admin := adminSession(t, e)
	target := e.seedUser(t, "alice")

	// Two concurrent sessions for the target user.
	s1, _ := e.login(t, "alice", "test-password")
	s2, _ := e.login(t, "alice", "test-password")
	if s1 == nil || s2 == nil {
		t.Fatal("target logins failed")
	}

	resp := e.doJSON(t, http.MethodPost, "/api/admin/users/"+target.ID+"/force-logout",
		admin.AccessToken, map[string]string{"message": "security review"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	result := decodeBody[map[string]any](t, resp)
	if revoked, _ := result["revoked_tokens"].(float64); revoked != 2 {
		t.Errorf("revoked_tokens = %v, want 2", result["revoked_tokens"])
	}

	// Both refresh tokens are dead.
	if r := refreshWith(t, e, s1.RefreshToken); r.StatusCode != http.StatusUnauthorized {
		t.Errorf("first session refresh status = %d, want 401", r.StatusCode)
	}
	if r := refreshWith(t, e, s2.RefreshToken); r.StatusCode != http.StatusUnauthorized {
		t.Errorf("second session refresh status = %d, want 401", r.StatusCode)
	}
}

func TestForceLogout_RecordsAudit(t *testing.T) {
	e := newTestEnv(t)
	admin := adminSession(t, e)
	target := e.seedUser(t, "alice")

	resp := e.doJSON(t, http.MethodPost, "/api/admin/users/"+target.ID+"/force-logout",
		admin.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	result, err := e.audit.List(context.Background(), audit.Filter{Action: audit.ActionForceLogout})
	if err != nil {
		t.Fatalf("listing audit: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("force_logout audit entries = %d, want 1", result.Total)
	}
}

func TestForceLogout_RequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "bob")
	session, _ := e.login(t, "bob", "test-password")
	if session == nil {
		t.Fatal("login failed")
	}

	resp := e.doJSON(t, http.MethodPost, "/api/admin/users/someone/force-logout",
		session.AccessToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

// =============================================================================
// Permissions Updated Tests
// =============================================================================

func TestPermissionsUpdated_Audited(t *testing.T) {
	e := newTestEnv(t)
	admin := adminSession(t, e)
	target := e.seedUser(t, "alice")

	resp := e.doJSON(t, http.MethodPost, "/api/admin/users/"+target.ID+"/permissions-updated",
		admin.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	result, err := e.audit.List(context.Background(), audit.Filter{Action: audit.ActionPermissionsUpdated})
	if err != nil {
		t.Fatalf("listing audit: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("permissions_updated audit entries = %d, want 1", result.Total)
	}
	if result.Logs[0].Detail != "by root" {
		t.Errorf("audit detail = %q, want 'by root'", result.Logs[0].Detail)
	}
}

// =============================================================================
// Audit Listing Tests
// =============================================================================

func TestAuditList_FiltersByAction(t *testing.T) {
	e := newTestEnv(t)
	admin := adminSession(t, e)
	e.seedUser(t, "alice")

	// Generate some trail: a login and a failed login.
	e.login(t, "alice", "test-password")
	e.login(t, "alice", "wrong")

	resp := e.doJSON(t, http.MethodGet, "/api/admin/audit?action=login", admin.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	result := decodeBody[audit.ListResult](t, resp)
	// The admin's own login plus alice's two attempts.
	if result.Total != 3 {
		t.Errorf("login audit entries = %d, want 3", result.Total)
	}
	for _, log := range result.Logs {
		if log.Action != audit.ActionLogin {
			t.Errorf("entry action = %q, want login", log.Action)
		}
	}
}

func TestAuditList_InvalidPagination(t *testing.T) {
	e := newTestEnv(t)
	admin := adminSession(t, e)

	for _, q := range []string{"?limit=abc", "?limit=-1", "?offset=x"} {
		resp := e.doJSON(t, http.MethodGet, "/api/admin/audit"+q, admin.AccessToken, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", q, resp.StatusCode)
		}
	}
}

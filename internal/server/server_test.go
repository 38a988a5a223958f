package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rollcall/internal/app"
	"rollcall/internal/server"
	"rollcall/internal/tabular"
)

func newHandler(t *testing.T, secret string) http.Handler {
	t.Helper()
	a, err := app.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	a.Now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	a.Location = time.UTC
	a.Snapshot.Location = time.UTC

	seedEmpty(t, a.WB, "12_Ack_Policies", []string{
		"Enabled", "Priority", "Group Name", "Match Column",
		"Match Values (comma-sep)", "MustAck", "QueueInclude",
		"SnapshotInclude", "AckCadence", "Coverage Assisted Pairing",
	})
	seedEmpty(t, a.WB, "07_Case_Index", []string{"Case ID", "Customer Name", "Sales Stage"})
	seedEmpty(t, a.WB, "08_Reps_Map", []string{"RootID", "Rep", "Role (Assigned/Assisted)", "Include? (Y/N)"})
	seedEmpty(t, a.WB, "10_Roster_Schedule", []string{"Rep", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"})

	h, err := server.New(server.Config{App: a, Auth: server.AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return h
}

func seedEmpty(t *testing.T, wb *tabular.Workbook, name string, header []string) {
	t.Helper()
	s, err := wb.EnsureTable(name)
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	s.SetHeader(header)
	if err := s.Save(); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestHealthSkipsAuth(t *testing.T) {
	h := newHandler(t, "sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newHandler(t, "sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/dashboard", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v0/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "ann"))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", rec.Code)
	}
}

func TestDashboardWithToken(t *testing.T) {
	h := newHandler(t, "sekrit")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v0/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "sekrit", "ann"))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Date string `json:"date"`
		Reps []any  `json:"reps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Date != "2026-03-02" {
		t.Fatalf("date = %q", body.Date)
	}
}

func TestGapsEmptyRoster(t *testing.T) {
	h := newHandler(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/gaps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("gaps = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Assigned []any `json:"assigned"`
		Assisted []any `json:"assisted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Assigned) != 0 || len(body.Assisted) != 0 {
		t.Fatalf("unexpected gaps: %+v", body)
	}
}

func TestRemindersEmpty(t *testing.T) {
	h := newHandler(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/reminders", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reminders = %d: %s", rec.Code, rec.Body.String())
	}
}

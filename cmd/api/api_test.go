package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/config"
	"studyroom/internal/events"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.App {
	return config.App{
		Env:               "test",
		JWTIssuer:         "studyroom-test",
		JWTSigningKey:     "test-signing-key",
		AccessTTL:         time.Hour,
		StaffPassword:     "secret",
		StorageBackend:    "memory",
		EventBackend:      "memory",
		RosterSkip:        true,
		RateLimitPerMin:   100000,
		PinMaxAttempts:    3,
		ExpectedArrival:   "09:00",
		ExpectedDeparture: "18:00",
	}
}

func newTestServer(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	cfg := testConfig()
	eng := buildEngine(cfg, nil, events.NewInMemory(64))
	r := newRouter(cfg, eng, nil, nil)

	body := do(t, r, http.MethodPost, "/v1/staff/login", "",
		gin.H{"name": "admin", "password": "secret"}, http.StatusOK)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return r, token
}

// do performs a JSON request and decodes the response body, asserting
// the expected status.
func do(t *testing.T, r *gin.Engine, method, path, token string, payload any, wantStatus int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, wantStatus, rec.Code, "unexpected status, body: %s", rec.Body.String())

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return out
}

func createLayout(t *testing.T, r *gin.Engine, token string) string {
	t.Helper()
	body := do(t, r, http.MethodPost, "/v1/layouts", token, gin.H{
		"name": "Main Room",
		"seats": []gin.H{
			{"id": "A1", "label": "A1"},
			{"id": "A2", "label": "A2"},
		},
	}, http.StatusCreated)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthz(t *testing.T) {
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaffLoginRejectsBadPassword(t *testing.T) {
	cfg := testConfig()
	eng := buildEngine(cfg, nil, events.NewInMemory(64))
	r := newRouter(cfg, eng, nil, nil)

	do(t, r, http.MethodPost, "/v1/staff/login", "",
		gin.H{"name": "admin", "password": "wrong"}, http.StatusUnauthorized)
}

func TestStaffRoutesRequireToken(t *testing.T) {
	r, _ := newTestServer(t)

	do(t, r, http.MethodGet, "/v1/layouts", "", nil, http.StatusUnauthorized)
}

func TestAssignConflictOverHTTP(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S1", "layout_id": layoutID}, http.StatusCreated)
	body := do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S2", "layout_id": layoutID}, http.StatusConflict)
	assert.Contains(t, body["error"], "already assigned")
}

func TestLinkCheckInWithPIN(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S1", "layout_id": layoutID}, http.StatusCreated)

	pinBody := do(t, r, http.MethodPost, "/v1/students/S1/pin", token, nil, http.StatusCreated)
	pin, _ := pinBody["pin"].(string)
	require.NotEmpty(t, pin)

	linkBody := do(t, r, http.MethodPost, "/v1/links", token,
		gin.H{"layout_id": layoutID, "title": "Door"}, http.StatusCreated)
	linkToken, _ := linkBody["token"].(string)
	require.NotEmpty(t, linkToken)

	// Wrong PIN is rejected before any record is touched.
	do(t, r, http.MethodPost, "/v1/links/"+linkToken+"/checkin", "",
		gin.H{"student_id": "S1", "method": "pin", "pin": "000000"}, http.StatusUnauthorized)

	rec := do(t, r, http.MethodPost, "/v1/links/"+linkToken+"/checkin", "",
		gin.H{"student_id": "S1", "method": "pin", "pin": pin}, http.StatusOK)
	assert.Equal(t, "checked_in", rec["status"])

	// Usage was recorded.
	links := do(t, r, http.MethodGet, "/v1/layouts/"+layoutID+"/links", token, nil, http.StatusOK)
	list, _ := links["links"].([]any)
	require.Len(t, list, 1)
	first, _ := list[0].(map[string]any)
	assert.EqualValues(t, 1, first["usage_count"])
}

func TestExpiredLinkOverHTTP(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	past := time.Now().UTC().Add(-time.Second).Format(time.RFC3339)
	linkBody := do(t, r, http.MethodPost, "/v1/links", token,
		gin.H{"layout_id": layoutID, "title": "Old door", "expires_at": past}, http.StatusCreated)
	linkToken, _ := linkBody["token"].(string)

	do(t, r, http.MethodPost, "/v1/links/"+linkToken+"/checkin", "",
		gin.H{"student_id": "S1", "method": "qr"}, http.StatusGone)
}

func TestAbsentThenCheckInOverHTTP(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S1", "layout_id": layoutID}, http.StatusCreated)

	rec := do(t, r, http.MethodPost, "/v1/attendance/absent", token,
		gin.H{"student_id": "S1", "layout_id": layoutID, "status": "excused", "reason": "sick"}, http.StatusOK)
	assert.Equal(t, "absent_excused", rec["status"])

	do(t, r, http.MethodPost, "/v1/attendance/checkin", token,
		gin.H{"student_id": "S1", "layout_id": layoutID}, http.StatusConflict)
}

func TestStatsOverHTTP(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S1", "layout_id": layoutID}, http.StatusCreated)
	do(t, r, http.MethodPost, "/v1/attendance/checkin", token,
		gin.H{"student_id": "S1", "layout_id": layoutID}, http.StatusOK)

	sum := do(t, r, http.MethodGet, "/v1/layouts/"+layoutID+"/stats", token, nil, http.StatusOK)
	assert.EqualValues(t, 2, sum["total_seats"])
	assert.EqualValues(t, 1, sum["assigned_seats"])
	assert.EqualValues(t, 1, sum["checked_in"])
}

func TestPinLockoutOverHTTP(t *testing.T) {
	r, token := newTestServer(t)
	layoutID := createLayout(t, r, token)

	do(t, r, http.MethodPost, "/v1/assignments", token,
		gin.H{"seat_id": "A1", "student_id": "S1", "layout_id": layoutID}, http.StatusCreated)
	do(t, r, http.MethodPost, "/v1/students/S1/pin", token, nil, http.StatusCreated)

	linkBody := do(t, r, http.MethodPost, "/v1/links", token,
		gin.H{"layout_id": layoutID, "title": "Door"}, http.StatusCreated)
	linkToken, _ := linkBody["token"].(string)

	for i := 0; i < 3; i++ {
		do(t, r, http.MethodPost, "/v1/links/"+linkToken+"/checkin", "",
			gin.H{"student_id": "S1", "method": "pin", "pin": "000000"}, http.StatusUnauthorized)
	}
	do(t, r, http.MethodPost, "/v1/links/"+linkToken+"/checkin", "",
		gin.H{"student_id": "S1", "method": "pin", "pin": "000000"}, http.StatusLocked)
}

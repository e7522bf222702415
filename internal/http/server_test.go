package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dhyanmanav/GAT-CMS-2/internal/certificates"
	"github.com/dhyanmanav/GAT-CMS-2/internal/config"
	"github.com/dhyanmanav/GAT-CMS-2/internal/identity"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
	"github.com/dhyanmanav/GAT-CMS-2/internal/notify"
	"github.com/dhyanmanav/GAT-CMS-2/internal/otp"
	"github.com/dhyanmanav/GAT-CMS-2/internal/ratelimit"
	"github.com/dhyanmanav/GAT-CMS-2/internal/registrar"
)

func testConfig() config.Config {
	return config.Config{
		HTTPAddr:             ":0",
		JWTSecret:            "test-secret",
		JWTIssuer:            "test-issuer",
		AccessTokenTTL:       15 * time.Minute,
		OTPTTL:               10 * time.Minute,
		OTPExposeCode:        true,
		OTPRateLimit:         0,
		OTPRateWindow:        time.Minute,
		PhoneVerificationTTL: 15 * time.Minute,
		AdminSecretCode:      "gat",
		CertNumberPrefix:     certificates.DefaultPrefix,
		CertListAllAdminOnly: true,
	}
}

func newTestApp(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	m := metrics.New()
	store := kv.NewMemoryStore()

	provider := identity.NewLocal(store, cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	verifier := otp.New(store, notify.NewLogSender(log), log, m, otp.Config{
		TTL:          cfg.OTPTTL,
		AssertionTTL: cfg.PhoneVerificationTTL,
		Secret:       cfg.JWTSecret,
		Issuer:       cfg.JWTIssuer,
	})
	reg := registrar.New(provider, store, verifier, cfg.AdminSecretCode, log, m)
	workflow := certificates.NewWorkflow(store, certificates.NewSequence(store, cfg.CertNumberPrefix), log, m,
		certificates.Options{ListAllAdminOnly: cfg.CertListAllAdminOnly})

	server := NewServer(cfg, Deps{
		Store:      store,
		Identity:   provider,
		OTP:        verifier,
		Registrar:  reg,
		Workflow:   workflow,
		OTPLimiter: ratelimit.New(store, "send-otp", cfg.OTPRateLimit, cfg.OTPRateWindow),
		Metrics:    m,
		Logger:     log,
	})
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app
}

func TestBonafideLifecycle(t *testing.T) {
	app := newTestApp(t, testConfig())

	// Phone verification.
	var sent struct {
		Success        bool   `json:"success"`
		DevelopmentOTP string `json:"developmentOTP"`
	}
	resp := doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "9876543210"})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &sent)
	if !sent.Success || len(sent.DevelopmentOTP) != 6 {
		t.Fatalf("expected a 6 digit development code, got %+v", sent)
	}

	var verified struct {
		VerificationToken string `json:"verificationToken"`
	}
	resp = doReq(t, http.MethodPost, app.URL+"/verify-otp", "", map[string]string{"phone": "9876543210", "otp": sent.DevelopmentOTP})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &verified)
	if verified.VerificationToken == "" {
		t.Fatalf("expected verification token")
	}

	resp = doReq(t, http.MethodPost, app.URL+"/verify-otp", "", map[string]string{"phone": "9876543210", "otp": sent.DevelopmentOTP})
	expectError(t, resp, http.StatusBadRequest, "otp_not_found")

	// Student signup and login.
	var signup struct {
		UserID string `json:"userId"`
	}
	resp = doReq(t, http.MethodPost, app.URL+"/signup/student", "", map[string]string{
		"fullName":          "Asha Rao",
		"usn":               "1GA21CS001",
		"fatherName":        "Ravi Rao",
		"semester":          "6",
		"year":              "3",
		"department":        "Computer Science",
		"email":             "asha@example.edu",
		"phone":             "9876543210",
		"password":          "secret1",
		"confirmPassword":   "secret1",
		"verificationToken": verified.VerificationToken,
	})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &signup)
	if signup.UserID == "" {
		t.Fatalf("expected user id")
	}

	studentToken := login(t, app.URL, "asha@example.edu", "secret1", "student")

	var me struct {
		Role string `json:"role"`
		User struct {
			USN string `json:"usn"`
		} `json:"user"`
	}
	resp = doReq(t, http.MethodGet, app.URL+"/user", studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &me)
	if me.Role != "student" || me.User.USN != "1GA21CS001" {
		t.Fatalf("unexpected profile %+v", me)
	}

	// Submit and list.
	var submitted struct {
		RequestID string `json:"requestId"`
	}
	resp = doReq(t, http.MethodPost, app.URL+"/certificate-request", studentToken, map[string]string{
		"studentName": "Asha Rao",
		"usn":         "1GA21CS001",
		"fatherName":  "Ravi Rao",
		"semester":    "6",
		"year":        "3",
		"department":  "Computer Science",
		"purpose":     "loan application",
	})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &submitted)

	var mine struct {
		Requests []certificates.Request `json:"requests"`
	}
	resp = doReq(t, http.MethodGet, app.URL+"/certificate-requests/student", studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &mine)
	if len(mine.Requests) != 1 || mine.Requests[0].Status != certificates.StatusPending || mine.Requests[0].CertificateNumber != "" {
		t.Fatalf("expected one pending request, got %+v", mine.Requests)
	}

	resp = doReq(t, http.MethodGet, app.URL+"/certificate-requests", studentToken, nil)
	expectError(t, resp, http.StatusForbidden, "admin_only")

	resp = doReq(t, http.MethodPut, app.URL+"/certificate-request/"+submitted.RequestID, studentToken, map[string]string{"status": "approved"})
	expectError(t, resp, http.StatusForbidden, "admin_only")

	// Admin review.
	resp = doReq(t, http.MethodPost, app.URL+"/signup/admin", "", map[string]string{
		"fullName":   "Dean",
		"email":      "dean@example.edu",
		"password":   "secret1",
		"secretCode": "gat",
	})
	expectStatus(t, resp, http.StatusOK)
	adminToken := login(t, app.URL, "dean@example.edu", "secret1", "admin")

	var all struct {
		Requests []certificates.Request `json:"requests"`
	}
	resp = doReq(t, http.MethodGet, app.URL+"/certificate-requests", adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &all)
	if len(all.Requests) != 1 {
		t.Fatalf("expected one request, got %d", len(all.Requests))
	}

	var updated struct {
		Request certificates.Request `json:"request"`
	}
	resp = doReq(t, http.MethodPut, app.URL+"/certificate-request/"+submitted.RequestID, adminToken, map[string]string{"status": "approved"})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &updated)
	year := time.Now().UTC().Year()
	want := fmt.Sprintf("GAT/GEN/BC/%d-%d/001", year, year+1)
	if updated.Request.Status != certificates.StatusApproved || updated.Request.CertificateNumber != want {
		t.Fatalf("expected approved %s, got %+v", want, updated.Request)
	}
	if updated.Request.ApprovedDate == nil {
		t.Fatalf("expected approvedDate")
	}

	resp = doReq(t, http.MethodPut, app.URL+"/certificate-request/"+submitted.RequestID, adminToken, map[string]string{"status": "rejected"})
	expectError(t, resp, http.StatusConflict, "status_final")

	resp = doReq(t, http.MethodPut, app.URL+"/certificate-request/missing", adminToken, map[string]string{"status": "approved"})
	expectError(t, resp, http.StatusNotFound, "request_not_found")
}

func TestSendOTPRejectsBadPhone(t *testing.T) {
	app := newTestApp(t, testConfig())
	resp := doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "12345"})
	expectError(t, resp, http.StatusBadRequest, "invalid_phone")
}

func TestSendOTPHidesCodeByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.OTPExposeCode = false
	app := newTestApp(t, cfg)

	var body map[string]interface{}
	resp := doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "9876543210"})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &body)
	if _, ok := body["developmentOTP"]; ok {
		t.Fatalf("code must not be returned: %v", body)
	}
}

func TestSendOTPRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.OTPRateLimit = 2
	app := newTestApp(t, cfg)

	for i := 0; i < 2; i++ {
		resp := doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "9876543210"})
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "9876543210"})
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	expectError(t, resp, http.StatusTooManyRequests, "rate_limited")
}

func TestVerifyOTPFailures(t *testing.T) {
	app := newTestApp(t, testConfig())

	resp := doReq(t, http.MethodPost, app.URL+"/verify-otp", "", map[string]string{"phone": "9876543210"})
	expectError(t, resp, http.StatusBadRequest, "missing_fields")

	resp = doReq(t, http.MethodPost, app.URL+"/verify-otp", "", map[string]string{"phone": "9876543210", "otp": "123456"})
	expectError(t, resp, http.StatusBadRequest, "otp_not_found")

	var sent struct {
		DevelopmentOTP string `json:"developmentOTP"`
	}
	resp = doReq(t, http.MethodPost, app.URL+"/send-otp", "", map[string]string{"phone": "9876543210"})
	decodeBody(t, resp, &sent)
	wrong := "000000"
	if sent.DevelopmentOTP == wrong {
		wrong = "111111"
	}
	resp = doReq(t, http.MethodPost, app.URL+"/verify-otp", "", map[string]string{"phone": "9876543210", "otp": wrong})
	expectError(t, resp, http.StatusBadRequest, "otp_mismatch")
}

func TestStudentSignupNeedsVerifiedPhone(t *testing.T) {
	app := newTestApp(t, testConfig())
	resp := doReq(t, http.MethodPost, app.URL+"/signup/student", "", map[string]string{
		"fullName":   "Asha Rao",
		"usn":        "1GA21CS001",
		"fatherName": "Ravi Rao",
		"semester":   "6",
		"year":       "3",
		"department": "Computer Science",
		"email":      "asha@example.edu",
		"phone":      "9876543210",
		"password":   "secret1",
	})
	expectError(t, resp, http.StatusForbidden, "phone_not_verified")

	resp = doReq(t, http.MethodPost, app.URL+"/signup/student", "", map[string]string{
		"fullName":        "Asha Rao",
		"usn":             "1GA21CS001",
		"fatherName":      "Ravi Rao",
		"semester":        "6",
		"year":            "3",
		"department":      "Computer Science",
		"email":           "asha@example.edu",
		"phone":           "9876543210",
		"password":        "secret1",
		"confirmPassword": "secret2",
	})
	expectError(t, resp, http.StatusBadRequest, "password_mismatch")
}

func TestAdminSignupRejectsBadSecret(t *testing.T) {
	app := newTestApp(t, testConfig())
	resp := doReq(t, http.MethodPost, app.URL+"/signup/admin", "", map[string]string{
		"fullName":   "Dean",
		"email":      "dean@example.edu",
		"password":   "secret1",
		"secretCode": "nope",
	})
	expectError(t, resp, http.StatusForbidden, "invalid_admin_secret")

	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]string{"email": "dean@example.edu", "password": "secret1"})
	expectError(t, resp, http.StatusUnauthorized, "invalid_credentials")
}

func TestLoginRejectsWrongRoleTab(t *testing.T) {
	app := newTestApp(t, testConfig())
	resp := doReq(t, http.MethodPost, app.URL+"/signup/admin", "", map[string]string{
		"fullName":   "Dean",
		"email":      "dean@example.edu",
		"password":   "secret1",
		"secretCode": "gat",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]string{"email": "dean@example.edu", "password": "secret1", "role": "student"})
	expectError(t, resp, http.StatusForbidden, "role_mismatch")
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	app := newTestApp(t, testConfig())

	resp := doReq(t, http.MethodGet, app.URL+"/certificate-requests/student", "", nil)
	expectError(t, resp, http.StatusUnauthorized, "missing_token")

	resp = doReq(t, http.MethodGet, app.URL+"/user", "not-a-jwt", nil)
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, testConfig())

	resp := doReq(t, http.MethodGet, app.URL+"/health", "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doReq(t, http.MethodGet, app.URL+"/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(buf.Bytes(), []byte("bonafide_http_requests_total")) {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestBearerToken(t *testing.T) {
	if got := bearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := bearerToken("bearer  abc "); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := bearerToken("Basic abc"); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func login(t *testing.T, baseURL, email, password, role string) string {
	t.Helper()
	var out struct {
		AccessToken string `json:"accessToken"`
		Role        string `json:"role"`
	}
	resp := doReq(t, http.MethodPost, baseURL+"/login", "", map[string]string{"email": email, "password": password, "role": role})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &out)
	if out.AccessToken == "" || out.Role != role {
		t.Fatalf("unexpected login response %+v", out)
	}
	return out.AccessToken
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	if resp.StatusCode != status {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, body.String())
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	expectStatus(t, resp, status)
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != code {
		t.Fatalf("expected error %s, got %s", code, body.Error)
	}
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

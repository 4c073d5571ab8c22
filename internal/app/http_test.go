package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"safevoice/api/internal/blob"
	"safevoice/api/internal/domain"
	"safevoice/api/internal/export"
	"safevoice/api/internal/store"
)

func newTestServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHTTPServer(h.svc, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	payload := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s: %v", req.Method, req.URL.Path, err)
	}
	return res.StatusCode, payload
}

func signUpHTTP(t *testing.T, baseURL, emailAddr, name string) string {
	t.Helper()
	status, payload := doJSON(t, http.MethodPost, baseURL+"/api/auth/signup", "", map[string]string{
		"email": emailAddr, "password": testPassword, "displayName": name,
	})
	if status != http.StatusCreated {
		t.Fatalf("signup status = %d payload=%v", status, payload)
	}
	token, _ := payload["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected access token, got %v", payload)
	}
	return token
}

type failingPingStore struct {
	*store.MemoryStore
}

func (failingPingStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t)
	server := newTestServer(t, h)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
	if res.Header.Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected request id echoed, got %q", res.Header.Get("X-Request-ID"))
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header, got %q", res.Header.Get("Access-Control-Allow-Origin"))
	}

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/ready", "", nil)
	if status != http.StatusOK || payload["status"] != "ready" {
		t.Fatalf("ready = %d %v", status, payload)
	}

	ms := store.NewMemoryStore()
	broken := newHarnessWithStore(t, ms, failingPingStore{MemoryStore: ms})
	status, payload = doJSON(t, http.MethodGet, newTestServer(t, broken).URL+"/api/ready", "", nil)
	if status != http.StatusServiceUnavailable || payload["status"] != "not_ready" {
		t.Fatalf("ready with failing db = %d %v", status, payload)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	server := newTestServer(t, newHarness(t))

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/reports", "", nil)
	if status != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", status, payload)
	}
	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/reports", "not-a-jwt", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d %v", status, payload)
	}
	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if status != http.StatusOK || payload["authenticated"] != false {
		t.Fatalf("expected anonymous session payload, got %d %v", status, payload)
	}
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	server := newTestServer(t, h)

	userToken := signUpHTTP(t, server.URL, "alice@safevoice.test", "Alice")
	admin := h.admin("rev@safevoice.test", "Rev", domain.PlanFree)

	status, created := doJSON(t, http.MethodPost, server.URL+"/api/reports", userToken, map[string]any{
		"title": "Broken lock", "category": "abuse", "description": "Back door lock is broken",
	})
	if status != http.StatusCreated || created["status"] != "pending" {
		t.Fatalf("create = %d %v", status, created)
	}
	reportID := created["id"].(string)
	reportURL := server.URL + "/api/reports/" + reportID

	status, payload := doJSON(t, http.MethodPatch, reportURL, userToken, map[string]string{"status": "under_review"})
	if status != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("user transition = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPatch, reportURL, admin.Token, map[string]string{"status": "resolved"})
	if status != http.StatusConflict || payload["code"] != "INVALID_TRANSITION" {
		t.Fatalf("invalid transition = %d %v", status, payload)
	}
	details := payload["details"].(map[string]any)
	if details["report"].(map[string]any)["status"] != "pending" {
		t.Fatalf("expected current report in details, got %v", details)
	}

	status, payload = doJSON(t, http.MethodPatch, reportURL, admin.Token, map[string]string{
		"status": "under_review", "expected_status": "pending",
	})
	if status != http.StatusOK || payload["status"] != "under_review" {
		t.Fatalf("transition = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPost, reportURL+"/comments", admin.Token, map[string]any{
		"message": "internal triage", "is_internal": true,
	})
	if status != http.StatusCreated || payload["is_internal"] != true {
		t.Fatalf("internal comment = %d %v", status, payload)
	}
	status, payload = doJSON(t, http.MethodGet, reportURL+"/comments", userToken, nil)
	if status != http.StatusOK || len(payload["comments"].([]any)) != 0 {
		t.Fatalf("expected internal comment hidden from submitter, got %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, server.URL+"/api/notifications", userToken, nil)
	if status != http.StatusOK || payload["unread"].(float64) != 1 {
		t.Fatalf("notifications = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodPost, reportURL+"/cancel", userToken, nil)
	if status != http.StatusOK || payload["status"] != "cancelled" {
		t.Fatalf("cancel = %d %v", status, payload)
	}
	status, payload = doJSON(t, http.MethodPost, reportURL+"/cancel", userToken, nil)
	if status != http.StatusConflict || payload["code"] != "INVALID_TRANSITION" {
		t.Fatalf("second cancel = %d %v", status, payload)
	}

	status, payload = doJSON(t, http.MethodGet, reportURL+"/history", userToken, nil)
	if status != http.StatusOK || len(payload["history"].([]any)) != 2 {
		t.Fatalf("history = %d %v", status, payload)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	h := newHarness(t)
	server := newTestServer(t, h)
	token := signUpHTTP(t, server.URL, "alice@safevoice.test", "Alice")

	status, payload := doJSON(t, http.MethodPost, server.URL+"/api/reports", token, map[string]any{
		"title": "t", "category": "fraud", "description": "d",
	})
	if status != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", status, payload)
	}
	if payload["details"].(map[string]any)["field"] != "category" {
		t.Fatalf("expected category field, got %v", payload["details"])
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/reports", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	status, payload = send(t, req)
	if status != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", status, payload)
	}
}

type fakeBlobs struct {
	puts    []blob.Upload
	removed []string
}

func (f *fakeBlobs) Put(_ context.Context, upload blob.Upload) (string, error) {
	if upload.Size > blob.MaxAttachmentSize {
		return "", blob.ErrTooLarge
	}
	data, _ := io.ReadAll(upload.Body)
	upload.Body = bytes.NewReader(data)
	f.puts = append(f.puts, upload)
	return "reports/" + upload.ReportID + "/evidence.png", nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://blobs.test/" + key + "?sig=1", nil
}

func (f *fakeBlobs) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func TestCreateReportWithAttachment(t *testing.T) {
	blobs := &fakeBlobs{}
	h := newHarness(t, WithAttachments(blobs))
	server := newTestServer(t, h)
	token := signUpHTTP(t, server.URL, "alice@safevoice.test", "Alice")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("title", "Broken window")
	_ = writer.WriteField("category", "other")
	_ = writer.WriteField("description", "Photo attached")
	_ = writer.WriteField("is_anonymous", "true")
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="evidence.png"`)
	partHeader.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("\x89PNG fake"))
	_ = writer.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/reports", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	status, payload := send(t, req)
	if status != http.StatusCreated {
		t.Fatalf("multipart create = %d %v", status, payload)
	}
	if payload["is_anonymous"] != true {
		t.Fatalf("expected anonymous flag, got %v", payload)
	}
	if len(blobs.puts) != 1 || blobs.puts[0].ContentType != "image/png" || blobs.puts[0].ReportID != payload["id"] {
		t.Fatalf("unexpected uploads: %+v", blobs.puts)
	}
	if url, _ := payload["attachment"].(string); !strings.HasPrefix(url, "https://blobs.test/reports/") {
		t.Fatalf("expected presigned attachment url, got %v", payload["attachment"])
	}

	status, payload = doJSON(t, http.MethodDelete, server.URL+"/api/reports/"+payload["id"].(string), token, nil)
	if status != http.StatusOK || payload["ok"] != true {
		t.Fatalf("delete = %d %v", status, payload)
	}
	if len(blobs.removed) != 1 {
		t.Fatalf("expected attachment removed, got %v", blobs.removed)
	}
}

func TestCertificateDownload(t *testing.T) {
	var renderedHTML string
	certs := export.NewServiceWithRenderer(func(_ context.Context, html, title string) (*export.Result, error) {
		renderedHTML = html
		return &export.Result{Data: []byte("%PDF-1.4 fake"), Filename: title + ".pdf", MimeType: "application/pdf"}, nil
	})
	h := newHarness(t, WithCertificates(certs))
	server := newTestServer(t, h)
	alice := h.user("alice@safevoice.test", "Alice")
	admin := h.admin("rev@safevoice.test", "Rev", domain.PlanFree)
	report := h.report(alice, "Payroll fraud")
	certURL := server.URL + "/api/reports/" + report.ID + "/certificate"

	status, payload := doJSON(t, http.MethodGet, certURL, alice.Token, nil)
	if status != http.StatusConflict || payload["code"] != "NOT_RESOLVED" {
		t.Fatalf("expected 409 NOT_RESOLVED, got %d %v", status, payload)
	}

	for _, next := range []string{"under_review", "resolved"} {
		if _, err := h.svc.TransitionStatus(context.Background(), admin, report.ID, next, ""); err != nil {
			t.Fatalf("TransitionStatus(%s) error = %v", next, err)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, certURL, nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("certificate status = %d body=%s", res.StatusCode, data)
	}
	if res.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", res.Header.Get("Content-Type"))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "certificate-"+report.ID+".pdf") {
		t.Fatalf("unexpected disposition %q", res.Header.Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf bytes, got %q", data)
	}
	if !strings.Contains(renderedHTML, "Payroll fraud") || !strings.Contains(renderedHTML, "Alice") {
		t.Fatal("expected certificate html to include title and submitter")
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHarness(t)
	server := newTestServer(t, h)
	token := signUpHTTP(t, server.URL, "alice@safevoice.test", "Alice")

	status, payload := doJSON(t, http.MethodGet, server.URL+"/api/projects", token, nil)
	if status != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", status, payload)
	}
}

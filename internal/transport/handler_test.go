package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go-doc-recognizer/internal/config"
	apperrors "go-doc-recognizer/internal/errors"
	"go-doc-recognizer/internal/observer"
	"go-doc-recognizer/internal/repository"
	"go-doc-recognizer/internal/service"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	users map[string]string
	err   error
}

func (f *fakeSessions) Resolve(_ context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if userID, ok := f.users[token]; ok {
		return userID, nil
	}
	return "", repository.ErrSessionNotFound
}

type fakeCredits struct {
	balance         int
	missing         bool
	seeded          int
	balanceErr      error
	recorded        []repository.Attempt
	recordRemaining int
	recordErr       error
}

func (f *fakeCredits) GetBalance(_ context.Context, _ string) (int, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	if f.missing {
		return 0, repository.ErrUserNotFound
	}
	return f.balance, nil
}

func (f *fakeCredits) EnsureUser(_ context.Context, _ string, seedCredits int) (int, error) {
	f.seeded++
	f.missing = false
	f.balance = seedCredits
	return seedCredits, nil
}

func (f *fakeCredits) RecordAttempt(_ context.Context, attempt repository.Attempt) (int, error) {
	f.recorded = append(f.recorded, attempt)
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	return f.recordRemaining, nil
}

type fakeLimiter struct {
	count    int
	recorded int
}

func (f *fakeLimiter) CountRecentAttempts(_ context.Context, _ string, _ time.Duration) (int, error) {
	return f.count, nil
}

func (f *fakeLimiter) Record(_ context.Context, _ string, _ time.Duration) error {
	f.recorded++
	return nil
}

type fakeRecognizer struct {
	outcome service.Outcome
	err     error
	calls   int
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ service.Upload) (service.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               "8080",
		RequestTimeout:     5 * time.Second,
		MaxRequestBodySize: 12 * 1024 * 1024,
		DocParseModel:      "PaddleOCR-VL",
		DocParseAPIToken:   "test-token",
		RateLimitMax:       5,
		RateLimitWindow:    time.Minute,
		FreeCredits:        3,
	}
}

type handlerFixture struct {
	recognizer *fakeRecognizer
	credits    *fakeCredits
	limiter    *fakeLimiter
	handler    http.Handler
}

func newHandlerFixture(recognizer *fakeRecognizer, credits *fakeCredits, limiter *fakeLimiter) *handlerFixture {
	sessions := &fakeSessions{users: map[string]string{"valid-token": "user-1"}}
	return newHandlerFixtureWithSessions(sessions, recognizer, credits, limiter)
}

func newHandlerFixtureWithSessions(sessions *fakeSessions, recognizer *fakeRecognizer, credits *fakeCredits, limiter *fakeLimiter) *handlerFixture {
	handler := NewHandler(recognizer, sessions, credits, limiter, observer.NewEventPublisher(), testConfig())
	return &handlerFixture{
		recognizer: recognizer,
		credits:    credits,
		limiter:    limiter,
		handler:    handler,
	}
}

func multipartUpload(t *testing.T, field, filename, mediaType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close form writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doRecognize(t *testing.T, fixture *handlerFixture, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/recognize", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)
	return rec
}

func TestRecognizeRequiresAuth(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "Missing token", token: ""},
		{name: "Unknown token", token: "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{})
			body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("data"))

			rec := doRecognize(t, fixture, tt.token, body, contentType)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if fixture.recognizer.calls != 0 {
				t.Errorf("unauthenticated request must not run recognition")
			}
		})
	}
}

func TestRecognizeRateLimited(t *testing.T) {
	fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{count: 5})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("data"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if fixture.recognizer.calls != 0 {
		t.Error("rate-limited request must not run recognition")
	}
	if len(fixture.credits.recorded) != 0 {
		t.Error("rate-limited request must not record an attempt")
	}
}

func TestRecognizeInsufficientCredits(t *testing.T) {
	fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 0}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("data"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if fixture.recognizer.calls != 0 {
		t.Error("request without credits must not run recognition")
	}
}

func TestRecognizeSeedsFirstSeenUser(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{
		Kind: service.OutcomeSuccess,
		Text: "Hello",
	}}
	credits := &fakeCredits{missing: true, recordRemaining: 2}
	fixture := newHandlerFixture(recognizer, credits, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for first-seen user, got %d: %s", rec.Code, rec.Body.String())
	}
	if credits.seeded != 1 {
		t.Errorf("expected one seeding call, got %d", credits.seeded)
	}
	if credits.balance != 3 {
		t.Errorf("expected starting balance 3, got %d", credits.balance)
	}
	if len(credits.recorded) != 1 {
		t.Errorf("seeded user's attempt must still be recorded, got %d records", len(credits.recorded))
	}
}

func TestRecognizeExistingUserNotReseeded(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{Kind: service.OutcomeSuccess, Text: "ok"}}
	credits := &fakeCredits{balance: 1, recordRemaining: 0}
	fixture := newHandlerFixture(recognizer, credits, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if credits.seeded != 0 {
		t.Errorf("existing user must not be reseeded, got %d seeding calls", credits.seeded)
	}
}

func TestStoreOutageMapsToServiceUnavailable(t *testing.T) {
	outage := fmt.Errorf("connect: %w: connection refused", repository.ErrStoreUnavailable)

	t.Run("Session store down", func(t *testing.T) {
		sessions := &fakeSessions{err: outage}
		fixture := newHandlerFixtureWithSessions(sessions, &fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{})
		body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("data"))

		rec := doRecognize(t, fixture, "valid-token", body, contentType)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if fixture.recognizer.calls != 0 {
			t.Error("store outage must not run recognition")
		}
	})

	t.Run("Credit store down", func(t *testing.T) {
		fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balanceErr: outage}, &fakeLimiter{})
		body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("data"))

		rec := doRecognize(t, fixture, "valid-token", body, contentType)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if fixture.recognizer.calls != 0 {
			t.Error("store outage must not run recognition")
		}
	})
}

func TestRecognizeSuccess(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{
		Kind:      service.OutcomeSuccess,
		Text:      "Hello",
		Language:  "en",
		ElapsedMs: 1234,
	}}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3, recordRemaining: 2}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["success"] != true {
		t.Error("expected success true")
	}
	if resp["text"] != "Hello" {
		t.Errorf("expected text Hello, got %v", resp["text"])
	}
	if resp["remaining_credits"] != float64(2) {
		t.Errorf("expected remaining_credits 2, got %v", resp["remaining_credits"])
	}

	if len(fixture.credits.recorded) != 1 {
		t.Fatalf("expected one recorded attempt, got %d", len(fixture.credits.recorded))
	}
	attempt := fixture.credits.recorded[0]
	if !attempt.Success {
		t.Error("successful outcome must be recorded as billable")
	}
	if attempt.TextLength != len("Hello") {
		t.Errorf("expected text length %d, got %d", len("Hello"), attempt.TextLength)
	}
	if fixture.limiter.recorded != 1 {
		t.Errorf("expected one rate-limit record, got %d", fixture.limiter.recorded)
	}
}

func TestRecognizeLegacyImageField(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{Kind: service.OutcomeSuccess, Text: "ok"}}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3, recordRemaining: 2}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "image", "scan.jpg", "image/jpeg", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for legacy field name, got %d", rec.Code)
	}
}

func TestRecognizeNoTextFound(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{Kind: service.OutcomeNoText, ElapsedMs: 900}}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3, recordRemaining: 3}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "blank.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for no-text, got %d", rec.Code)
	}

	if len(fixture.credits.recorded) != 1 {
		t.Fatalf("no-text attempt must still be recorded, got %d records", len(fixture.credits.recorded))
	}
	if fixture.credits.recorded[0].Success {
		t.Error("no-text attempt must not be billable")
	}
}

func TestRecognizeVendorFailureHidesRawReason(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{
		Kind:   service.OutcomeFailure,
		Reason: "bad scan",
		Err:    apperrors.NewPollError("bad scan", nil),
	}}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3, recordRemaining: 3}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for vendor failure, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "bad scan") {
		t.Errorf("raw vendor error must not reach the client: %s", rec.Body.String())
	}
	if len(fixture.credits.recorded) != 1 {
		t.Fatalf("failed attempt must still be recorded, got %d records", len(fixture.credits.recorded))
	}
	if fixture.credits.recorded[0].Success {
		t.Error("failed attempt must not be billable")
	}
}

func TestRecognizeTimeoutMapsToGatewayTimeout(t *testing.T) {
	recognizer := &fakeRecognizer{outcome: service.Outcome{
		Kind:   service.OutcomeFailure,
		Reason: "task not terminal after 30 attempts",
		Err:    apperrors.NewTimeoutError("task not terminal after 30 attempts", nil),
	}}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3, recordRemaining: 3}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "scan.png", "image/png", []byte("image-bytes"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504 for timeout, got %d", rec.Code)
	}
}

func TestRecognizeValidationErrorRecordsNothing(t *testing.T) {
	recognizer := &fakeRecognizer{err: apperrors.NewValidationError("unsupported media type", nil)}
	fixture := newHandlerFixture(recognizer, &fakeCredits{balance: 3}, &fakeLimiter{})
	body, contentType := multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))

	rec := doRecognize(t, fixture, "valid-token", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid upload, got %d", rec.Code)
	}
	if len(fixture.credits.recorded) != 0 {
		t.Errorf("validation failures must not record attempts, got %d", len(fixture.credits.recorded))
	}
}

func TestMissingFileField(t *testing.T) {
	fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("note", "no file here")
	_ = writer.Close()

	rec := doRecognize(t, fixture, "valid-token", &buf, writer.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing file, got %d", rec.Code)
	}
	if fixture.recognizer.calls != 0 {
		t.Error("missing file must not run recognition")
	}
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "available") {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestServiceInfoEndpoint(t *testing.T) {
	fixture := newHandlerFixture(&fakeRecognizer{}, &fakeCredits{balance: 3}, &fakeLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/recognize", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("bad info JSON: %v", err)
	}
	if info["model"] != "PaddleOCR-VL" {
		t.Errorf("expected model PaddleOCR-VL, got %v", info["model"])
	}
	if info["configured"] != true {
		t.Errorf("expected configured true, got %v", info["configured"])
	}
}

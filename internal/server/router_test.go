package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/auth"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/batches"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/dispatch"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/docsource"
	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const validToken = "valid-token"

type stubTokens struct {
	validateErr error
}

func (s stubTokens) Validate(token string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	if token != validToken {
		return "", auth.ErrInvalidToken
	}
	return "cron", nil
}

type stubDispatcher struct {
	mu     sync.Mutex
	lists  []string
	result dispatch.Result
	err    error
}

func (s *stubDispatcher) Dispatch(_ context.Context, rawList string) (dispatch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = append(s.lists, rawList)
	return s.result, s.err
}

func (s *stubDispatcher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lists...)
}

type stubSyncer struct {
	report docsource.SyncReport
	err    error
	runs   int
}

func (s *stubSyncer) Sync(context.Context) (docsource.SyncReport, error) {
	s.runs++
	return s.report, s.err
}

type stubWords struct {
	stats vocab.ListStats
	err   error
}

func (s stubWords) Stats(_ context.Context, list vocab.ListName) (vocab.ListStats, error) {
	stats := s.stats
	stats.List = list
	return stats, s.err
}

type stubRecords struct {
	record batches.Record
	found  bool
	err    error
}

func (s stubRecords) FindToday(context.Context, vocab.ListName) (batches.Record, bool, error) {
	return s.record, s.found, s.err
}

func newTestRouter(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.Tokens == nil {
		deps.Tokens = stubTokens{}
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = &stubDispatcher{}
	}
	if deps.Words == nil {
		deps.Words = stubWords{}
	}
	if deps.Records == nil {
		deps.Records = stubRecords{}
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func authorizedRequest(method, target string) *http.Request {
	request := httptest.NewRequest(method, target, http.NoBody)
	request.Header.Set("Authorization", "Bearer "+validToken)
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		deps Dependencies
		want error
	}{
		{name: "tokens", deps: Dependencies{}, want: errMissingTokenValidator},
		{name: "dispatcher", deps: Dependencies{Tokens: stubTokens{}}, want: errMissingDispatcher},
		{name: "words", deps: Dependencies{Tokens: stubTokens{}, Dispatcher: &stubDispatcher{}}, want: errMissingWordStore},
		{name: "records", deps: Dependencies{Tokens: stubTokens{}, Dispatcher: &stubDispatcher{}, Words: stubWords{}}, want: errMissingRecordStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewHTTPHandler(tt.deps); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPingAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(t, Dependencies{})

	for _, path := range []string{"/ping", "/metrics"} {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected %s to answer 200, got %d", path, recorder.Code)
		}
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	dispatcher := &stubDispatcher{}
	router := newTestRouter(t, Dependencies{Dispatcher: dispatcher})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/vocab/send-batch/software", http.NoBody))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/vocab/send-batch/software", http.NoBody)
	request.Header.Set("Authorization", "Bearer wrong")
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", recorder.Code)
	}
	if len(dispatcher.calls()) != 0 {
		t.Fatalf("expected no dispatch for unauthorized requests")
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{name: "expired", err: auth.ErrExpiredToken, wantLevel: zapcore.InfoLevel},
		{name: "invalid", err: auth.ErrInvalidToken, wantLevel: zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/api/vocab/lists/software", http.NoBody)
			request.Header.Set("Authorization", "Bearer some-token")
			ctx.Request = request

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{tokens: stubTokens{validateErr: tt.err}, logger: zap.New(core)}
			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected exactly one log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.wantLevel || entries[0].Message != "token validation failed" {
				t.Fatalf("unexpected log entry %+v", entries[0])
			}
		})
	}
}

func TestSendBatchReturnsDispatchStatus(t *testing.T) {
	dispatcher := &stubDispatcher{result: dispatch.Result{
		List:     "software_vocabulary",
		Day:      "2026-05-14",
		Outcome:  dispatch.OutcomeGenerated,
		Words:    []vocab.Entry{{Word: "idempotent", Meaning: "same result"}},
		PDFURL:   "https://pdf.example/a.pdf",
		AudioURL: "https://audio.example/a.mp3",
		Warnings: []dispatch.PartialDeliveryWarning{{Collaborator: dispatch.CollaboratorMail, Err: errors.New("smtp down")}},
	}}
	router := newTestRouter(t, Dependencies{Dispatcher: dispatcher})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(http.MethodPost, "/api/vocab/send-batch/Software%20Vocabulary"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload dispatchResponsePayload
	decodeBody(t, recorder, &payload)
	if payload.Status != "generated" || payload.List != "software_vocabulary" || len(payload.Words) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Warnings) != 1 || payload.Warnings[0] != "mail: smtp down" {
		t.Fatalf("unexpected warnings %#v", payload.Warnings)
	}
	if calls := dispatcher.calls(); len(calls) != 1 || calls[0] != "Software Vocabulary" {
		t.Fatalf("expected raw list passed to dispatcher, got %#v", calls)
	}
}

func TestSendBatchMapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid-list", err: vocab.ErrInvalidListName, wantStatus: http.StatusBadRequest},
		{name: "infrastructure", err: &dispatch.InfrastructureError{Step: "check", Err: errors.New("db down")}, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &stubDispatcher{result: dispatch.Result{Outcome: dispatch.OutcomeFailed}, err: tt.err}
			router := newTestRouter(t, Dependencies{Dispatcher: dispatcher})

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, authorizedRequest(http.MethodPost, "/api/vocab/send-batch/software"))
			if recorder.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, recorder.Code)
			}
			if strings.Contains(recorder.Body.String(), "db down") {
				t.Fatalf("expected internal error detail to stay out of the response, got %s", recorder.Body.String())
			}
			var payload map[string]interface{}
			decodeBody(t, recorder, &payload)
			if payload["status"] != "failed" {
				t.Fatalf("expected failed status, got %#v", payload)
			}
		})
	}
}

func TestSyncRoute(t *testing.T) {
	syncer := &stubSyncer{report: docsource.SyncReport{
		Documents: 2,
		Stored:    map[string]int{"software_vocabulary": 12},
		Skipped:   []string{"empty.docx"},
		Failed:    []string{},
	}}
	router := newTestRouter(t, Dependencies{Syncer: syncer})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(http.MethodPost, "/api/vocab/sync"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload syncResponsePayload
	decodeBody(t, recorder, &payload)
	if payload.Documents != 2 || payload.Stored["software_vocabulary"] != 12 || syncer.runs != 1 {
		t.Fatalf("unexpected sync payload %+v", payload)
	}
	if !strings.Contains(payload.Message, "12 words stored") {
		t.Fatalf("unexpected summary %q", payload.Message)
	}

	failing := newTestRouter(t, Dependencies{Syncer: &stubSyncer{err: errors.New("drive down")}})
	recorder = httptest.NewRecorder()
	failing.ServeHTTP(recorder, authorizedRequest(http.MethodPost, "/api/vocab/sync"))
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed sync, got %d", recorder.Code)
	}

	missing := newTestRouter(t, Dependencies{})
	recorder = httptest.NewRecorder()
	missing.ServeHTTP(recorder, authorizedRequest(http.MethodPost, "/api/vocab/sync"))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a syncer, got %d", recorder.Code)
	}
}

func TestListStatusIncludesTodaysBatch(t *testing.T) {
	wordsJSON, err := batches.EncodeWords([]vocab.Entry{{Word: "latency", Meaning: "delay"}})
	if err != nil {
		t.Fatalf("encode words: %v", err)
	}
	router := newTestRouter(t, Dependencies{
		Words: stubWords{stats: vocab.ListStats{Total: 30, Unsent: 20, SentToday: 10, LastSentOn: "2026-05-14"}},
		Records: stubRecords{found: true, record: batches.Record{
			RunDate:   "2026-05-14",
			ListName:  "software_vocabulary",
			PDFURL:    "https://pdf.example/a.pdf",
			WordsJSON: wordsJSON,
		}},
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(http.MethodGet, "/api/vocab/lists/Software-Vocabulary"))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload listStatusPayload
	decodeBody(t, recorder, &payload)
	if payload.List != "software_vocabulary" || payload.Total != 30 || payload.Unsent != 20 || payload.SentToday != 10 {
		t.Fatalf("unexpected stats %+v", payload)
	}
	if payload.Today == nil || payload.Today.Day != "2026-05-14" || len(payload.Today.Words) != 1 || payload.Today.Words[0].Word != "latency" {
		t.Fatalf("unexpected today payload %+v", payload.Today)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(http.MethodGet, "/api/vocab/lists/%21%21"))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unusable list name, got %d", recorder.Code)
	}
}

func TestCORSPreflightAllowsAuthorizationHeader(t *testing.T) {
	router := newTestRouter(t, Dependencies{AllowedOrigins: []string{"https://app.example.com"}})

	request := httptest.NewRequest(http.MethodOptions, "/api/vocab/sync", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

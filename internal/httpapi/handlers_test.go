package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agent-softphone/internal/calls"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/reporting"
	"agent-softphone/internal/session"

	"github.com/gin-gonic/gin"
)

type sessionStub struct {
	err    error
	got    []session.Event
	status session.CallStatus
}

func (s *sessionStub) Do(_ context.Context, intent session.Event) error {
	s.got = append(s.got, intent)
	return s.err
}

func (s *sessionStub) Snapshot() session.State {
	st := session.NewState("42", "agent-7")
	if s.status != "" {
		st.Call.Status = s.status
	}
	return st
}

func newRouter(h Handlers, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(RequireControlToken(token))
	v1.GET("/session", h.GetSession)
	v1.POST("/offer/accept", h.AcceptOffer)
	v1.POST("/calls", h.PlaceCall)
	v1.POST("/calls/participants", h.AddParticipant)
	v1.POST("/signaling/reconnect", h.Reconnect)
	v1.GET("/notices", h.ListNotices)
	v1.GET("/calls/history", h.ListCallHistory)
	v1.GET("/calls/summary", h.CallsSummary)
	return r
}

func serve(r *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestPlaceCall_PassesAddress(t *testing.T) {
	s := &sessionStub{status: session.StatusConnecting}
	r := newRouter(Handlers{Session: s}, "")

	w := serve(r, http.MethodPost, "/v1/calls", `{"to":"+14805551234"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	pc, ok := s.got[0].(session.PlaceCall)
	if !ok || pc.Address != "+14805551234" {
		t.Fatalf("unexpected intent %+v", s.got)
	}
	var snap session.State
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Call.Status != session.StatusConnecting {
		t.Fatalf("expected snapshot in response, got %+v", snap.Call)
	}
}

func TestPlaceCall_BadBody(t *testing.T) {
	s := &sessionStub{}
	r := newRouter(Handlers{Session: s}, "")

	if w := serve(r, http.MethodPost, "/v1/calls", `{`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad json, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/v1/calls/participants", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without phone, got %d", w.Code)
	}
	if len(s.got) != 0 {
		t.Fatalf("bad requests must not reach the session")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrInvalidPhone, http.StatusBadRequest},
		{session.ErrNoActiveConference, http.StatusBadRequest},
		{session.ErrNoPendingOffer, http.StatusConflict},
		{session.ErrNotStarted, http.StatusConflict},
		{session.ErrStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(Handlers{Session: &sessionStub{err: tc.err}}, "")
		w := serve(r, http.MethodPost, "/v1/offer/accept", "", nil)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestRequireControlToken(t *testing.T) {
	r := newRouter(Handlers{Session: &sessionStub{}}, "s3cret")

	if w := serve(r, http.MethodGet, "/v1/session", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	bad := http.Header{"Authorization": []string{"Bearer nope"}}
	if w := serve(r, http.MethodGet, "/v1/session", "", bad); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	good := http.Header{"Authorization": []string{"Bearer s3cret"}}
	if w := serve(r, http.MethodPost, "/v1/signaling/reconnect", "", good); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestListNotices(t *testing.T) {
	svc := notice.NewService(notice.NewMemoryRepo(0))
	for _, msg := range []string{"first", "second"} {
		if _, err := svc.Append(context.Background(), notice.Notice{Kind: notice.KindMissedCall, Message: msg}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	r := newRouter(Handlers{Session: &sessionStub{}, Notices: svc}, "")

	w := serve(r, http.MethodGet, "/v1/notices?limit=1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Notices []notice.Notice `json:"notices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Notices) != 1 || body.Notices[0].Message != "second" {
		t.Fatalf("expected newest notice only, got %+v", body.Notices)
	}

	if w := serve(r, http.MethodGet, "/v1/notices?limit=x", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad limit, got %d", w.Code)
	}
}

func TestListCallHistory_ScopedToAgent(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Now().UTC()
	for _, rec := range []calls.Record{
		{ID: "c1", AgentIdentity: "agent-7", Direction: calls.DirectionInbound, Outcome: calls.OutcomeMissed, EndedAt: now},
		{ID: "c2", AgentIdentity: "agent-9", Direction: calls.DirectionOutbound, Outcome: calls.OutcomeCompleted, EndedAt: now},
	} {
		if err := repo.Save(context.Background(), rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	r := newRouter(Handlers{Session: &sessionStub{}, History: repo, AgentIdentity: "agent-7"}, "")

	w := serve(r, http.MethodGet, "/v1/calls/history", "", nil)
	var body struct {
		Calls []calls.Record `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 1 || body.Calls[0].ID != "c1" {
		t.Fatalf("expected only this agent's calls, got %+v", body.Calls)
	}
}

func TestCallsSummary(t *testing.T) {
	repo := calls.NewMemoryRepo()
	ended := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := repo.Save(context.Background(), calls.Record{
		ID: "c1", AgentIdentity: "agent-7", Direction: calls.DirectionInbound,
		Outcome: calls.OutcomeCompleted, DurationSeconds: 42, EndedAt: ended,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	r := newRouter(Handlers{Session: &sessionStub{}, Summaries: reporting.NewService(repo), AgentIdentity: "agent-7"}, "")

	w := serve(r, http.MethodGet, "/v1/calls/summary?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 42 {
		t.Fatalf("unexpected summary %+v", out)
	}

	if w := serve(r, http.MethodGet, "/v1/calls/summary?from=yesterday", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on bad from, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/v1/calls/summary?from=2026-03-03T00:00:00Z&to=2026-03-02T00:00:00Z", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on inverted range, got %d", w.Code)
	}
}

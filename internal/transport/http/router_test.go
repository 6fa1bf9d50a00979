package http

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/push-dispatcher/internal/config"
	"github.com/push-dispatcher/internal/domain"
	jwtinfra "github.com/push-dispatcher/internal/infrastructure/jwt"
	"github.com/push-dispatcher/internal/infrastructure/metrics"
)

type stubDispatch struct{ mock.Mock }

func (s *stubDispatch) RunDispatchCycle(ctx context.Context) (*domain.CycleSummary, error) {
	args := s.Called(ctx)
	return args.Get(0).(*domain.CycleSummary), args.Error(1)
}

func (s *stubDispatch) SendTest(ctx context.Context, recipientID, title, body string) (*domain.TestSendResult, error) {
	args := s.Called(ctx, recipientID, title, body)
	return args.Get(0).(*domain.TestSendResult), args.Error(1)
}

type stubRetention struct{ mock.Mock }

func (s *stubRetention) RunRetentionCleanup(ctx context.Context) (*domain.RetentionSummary, error) {
	args := s.Called(ctx)
	return args.Get(0).(*domain.RetentionSummary), args.Error(1)
}

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwtinfra.NewProviderFromKeys(key, &key.PublicKey, time.Hour)
}

type testServer struct {
	deps      *Deps
	handler   http.Handler
	dispatch  *stubDispatch
	retention *stubRetention
}

func newTestServer(t *testing.T, verifier *jwtinfra.Provider) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec := metrics.New()
	rec.MustRegister(reg)

	ts := &testServer{dispatch: &stubDispatch{}, retention: &stubRetention{}}
	deps := &Deps{
		Dispatch:  ts.dispatch,
		Retention: ts.retention,
		Metrics:   rec,
		Gatherer:  reg,
	}
	if verifier != nil {
		deps.JWT = verifier
	}
	ts.deps = deps
	ts.rebuild(t)
	return ts
}

func (ts *testServer) rebuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts.handler = NewRouter(ctx, &config.Config{AllowedOrigins: []string{"*"}}, ts.deps)
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouter_HealthCheckIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/v1/health-check/ping", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pong")
}

func TestRouter_ReadinessUsesStoreCheck(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.deps.Ready = func(context.Context) error { return errors.New("dial tcp: connection refused") }
	ts.rebuild(t)

	rr := ts.do(http.MethodGet, "/v1/health-check/ready", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_JobsRequireToken(t *testing.T) {
	ts := newTestServer(t, newTestProvider(t))

	rr := ts.do(http.MethodPost, "/v1/jobs/dispatch", "", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	ts.dispatch.AssertNotCalled(t, "RunDispatchCycle", mock.Anything)
}

func TestRouter_JobsRequireAdminRole(t *testing.T) {
	p := newTestProvider(t)
	ts := newTestServer(t, p)
	token, err := p.Sign("viewer@example.com", "viewer")
	require.NoError(t, err)

	rr := ts.do(http.MethodPost, "/v1/jobs/retention", token, "")

	assert.Equal(t, http.StatusForbidden, rr.Code)
	ts.retention.AssertNotCalled(t, "RunRetentionCleanup", mock.Anything)
}

func TestRouter_AdminRunsDispatch(t *testing.T) {
	p := newTestProvider(t)
	ts := newTestServer(t, p)
	ts.dispatch.On("RunDispatchCycle", mock.Anything).Return(&domain.CycleSummary{CycleID: "c1", Fetched: 1}, nil)
	token, err := p.Sign("ops@example.com", jwtinfra.RoleAdmin)
	require.NoError(t, err)

	rr := ts.do(http.MethodPost, "/v1/jobs/dispatch", token, "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cycle_id":"c1"`)
	ts.dispatch.AssertExpectations(t)
}

func TestRouter_NoVerifierRejectsAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/notifications/test", "whatever", `{"recipient_id":"u","title":"t","body":"b"}`)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_MetricsExposeRequestCounts(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodGet, "/v1/health-check/ping", "", "")

	rr := ts.do(http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dispatcher_http_requests_total{method="GET",path="/v1/health-check/{action}",status="200"} 1`)
}

// Package integration provides a reusable test harness for end-to-end
// integration testing of the vehicleflow server. It starts a full HTTP server
// over in-memory stores, an optional miniredis instance for idempotency and
// notifications, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/vehicleflow/internal/capability"
	"github.com/pitabwire/vehicleflow/internal/config"
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/internal/notify"
	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/internal/openapi"
	"github.com/pitabwire/vehicleflow/internal/transport"
	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

const streamPrefix = "vehicleflow:events:"

// TestHarness encapsulates a fully wired vehicleflow instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry   *definition.Registry
	Store      *workflow.MemoryStore
	Engine     *workflow.Engine
	Dispatcher *notify.Dispatcher
	Metrics    *observability.Metrics
	Redis      *miniredis.Miniredis
	Logs       *observer.ObservedLogs

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	redis          bool
	handlerTimeout time.Duration
	seed           []workflow.RegisterRequest
	policy         map[string][]string
}

// WithRedis backs idempotency and notifications with a miniredis server.
// Without it the harness uses the in-memory idempotency store and logs
// notifications.
func WithRedis() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithVehicles registers vehicles before the server starts.
func WithVehicles(reqs ...workflow.RegisterRequest) HarnessOption {
	return func(c *harnessConfig) {
		c.seed = append(c.seed, reqs...)
	}
}

// WithPolicy enables role-based authorization with the given role table.
func WithPolicy(roles map[string][]string) HarnessOption {
	return func(c *harnessConfig) {
		c.policy = roles
	}
}

// NewTestHarness creates and starts a full vehicleflow test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{handlerTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(hc)
	}

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := &TestHarness{
		t:        t,
		issuer:   newTokenIssuer(),
		Registry: definition.MustDefault(),
		Store:    workflow.NewMemoryStore(),
		Metrics:  observability.InitMetrics(prometheus.NewRegistry()),
		Logs:     logs,
	}

	var (
		notifier    notify.Notifier = notify.NewLogNotifier(logger)
		idempotency workflow.IdempotencyStore = workflow.NewMemoryIdempotencyStore()
	)
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		notifier = notify.NewRedisStreamNotifier(client, streamPrefix, 1000, logger)
		idempotency = workflow.NewRedisIdempotencyStore(client)
	}

	h.Dispatcher = notify.NewDispatcher(notifier, notify.DispatcherConfig{
		QueueSize:      64,
		Workers:        2,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, logger, h.Metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Dispatcher.Close(ctx)
	})

	h.Engine = workflow.NewEngine(h.Registry, h.Store,
		workflow.WithIdempotency(idempotency, time.Hour),
		workflow.WithPublisher(h.Dispatcher),
		workflow.WithMetrics(h.Metrics),
		workflow.WithLogger(logger),
	)
	if _, err := h.Engine.Seed(context.Background(), hc.seed); err != nil {
		t.Fatalf("seed vehicles: %v", err)
	}

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Identity.Issuer = h.issuer.issuer
	h.cfg.Identity.Audience = h.issuer.audience

	readiness := observability.ReadinessChecks{
		RegistryLoaded: func() bool { return len(h.Registry.Locations()) > 0 },
		Notifier:       h.Dispatcher,
	}
	if hcheck, ok := idempotency.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hcheck
	}

	contract, err := openapi.Default()
	if err != nil {
		t.Fatalf("load API contract: %v", err)
	}
	var capabilities *capability.Resolver
	if hc.policy != nil {
		capabilities = capability.NewResolver(capability.NewStaticPolicy(hc.policy), time.Minute)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Engine:       h.Engine,
		Logger:       logger,
		Metrics:      h.Metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, h.issuer.secret),
		Capabilities: capabilities,
		Contract:     contract,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateForeignToken creates a JWT signed with the wrong secret.
func (h *TestHarness) GenerateForeignToken(claims TestClaims) string {
	return h.issuer.GenerateForeignToken(claims)
}

// FlushNotifications closes the dispatcher and waits for every queued
// message to be delivered or given up on.
func (h *TestHarness) FlushNotifications() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Dispatcher.Close(ctx); err != nil {
		h.t.Fatalf("flush notifications: %v", err)
	}
}

// StreamEvents returns the entries of the redis stream for topic.
func (h *TestHarness) StreamEvents(topic string) []miniredis.StreamEntry {
	h.t.Helper()
	if h.Redis == nil {
		h.t.Fatal("StreamEvents requires WithRedis")
	}
	entries, err := h.Redis.Stream(streamPrefix + topic)
	if err != nil {
		h.t.Fatalf("read stream %s: %v", topic, err)
	}
	return entries
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PATCH", path, body, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	return body.Error
}

// --- Default test claims ---

// PorterClaims returns TestClaims for a lot porter.
func PorterClaims() TestClaims {
	return TestClaims{SubjectID: "porter-7", Roles: []string{"porter"}}
}

// SalesClaims returns TestClaims for a salesperson.
func SalesClaims() TestClaims {
	return TestClaims{SubjectID: "sales-3", Roles: []string{"sales"}}
}

// --- Fixtures ---

// VehicleFixture returns a RegisterRequest for vin at new_arrivals with a
// model set.
func VehicleFixture(vin string) workflow.RegisterRequest {
	return workflow.RegisterRequest{
		VIN:        vin,
		Attributes: map[string]any{model.AttrModel: "Golf"},
	}
}

// VehiclePath returns the API path of vin with suffix appended.
func VehiclePath(vin, suffix string) string {
	return fmt.Sprintf("/v1/vehicles/%s%s", vin, suffix)
}

// MoveBody returns a move request body.
func MoveBody(from, to model.Location) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func assertEqual(t *testing.T, got, want any, name string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

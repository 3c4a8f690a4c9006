package authclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authclient"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/memstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	baseURL       = "http://api.test"
	tokenURL      = "http://auth.test/oauth/token"
	oldAccess     = "old-access"
	newAccess     = "new-access"
	storedRefresh = "refresh-1"
)

// fakeAPI accepts only the valid bearer token and records the paths it served.
type fakeAPI struct {
	mu       sync.Mutex
	valid    string
	served   []string
	bodies   []string
	attempts map[string]int
	always   map[string]int // path -> status returned regardless of token
	rejects  map[string]int // path -> 401s to answer before honouring the token

	// onAttempt, when set, runs before each answer with the path and its
	// attempt number.
	onAttempt func(path string, attempt int)
}

func newFakeAPI(valid string) *fakeAPI {
	return &fakeAPI{valid: valid, attempts: map[string]int{}, always: map[string]int{}, rejects: map[string]int{}}
}

func (f *fakeAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = string(b)
	}

	path := req.URL.Path
	f.mu.Lock()
	f.attempts[path]++
	attempt, hook := f.attempts[path], f.onAttempt
	f.mu.Unlock()
	if hook != nil {
		hook(path, attempt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	status := http.StatusOK
	if s, ok := f.always[path]; ok {
		status = s
	} else if f.rejects[path] > 0 {
		f.rejects[path]--
		status = http.StatusUnauthorized
	} else if req.Header.Get("Authorization") != "Bearer "+f.valid {
		status = http.StatusUnauthorized
	}
	if status == http.StatusOK {
		f.served = append(f.served, path)
		f.bodies = append(f.bodies, body)
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"X-Path": {path}},
		Body:       io.NopCloser(strings.NewReader(`{"path":"` + path + `"}`)),
		Request:    req,
	}, nil
}

func (f *fakeAPI) Served() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.served...)
}

func (f *fakeAPI) Attempts(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[path]
}

// fakeRefresher optionally blocks until release yields.
type fakeRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	cred    credentials.Credential
	err     error
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{
		started: make(chan struct{}, 16),
		cred:    credentials.Credential{AccessToken: newAccess},
	}
}

func (r *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (credentials.Credential, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return credentials.Credential{}, ctx.Err()
		}
	}
	if r.err != nil {
		return credentials.Credential{}, r.err
	}
	if refreshToken != storedRefresh {
		return credentials.Credential{}, errors.New("unexpected refresh token " + refreshToken)
	}
	return r.cred, nil
}

func (r *fakeRefresher) TokenURL() string {
	return tokenURL
}

// countingStore counts saves per kind.
type countingStore struct {
	credentials.Store
	mu    sync.Mutex
	saves map[credentials.Kind]int
}

func (s *countingStore) Save(ctx context.Context, kind credentials.Kind, value string) error {
	s.mu.Lock()
	s.saves[kind]++
	s.mu.Unlock()
	return s.Store.Save(ctx, kind, value)
}

func (s *countingStore) Saves(kind credentials.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[kind]
}

type recordingMetrics struct {
	started, succeeded, failed, queued, cancelled, invalidated atomic.Int32

	mu      sync.Mutex
	replays []string
	waits   []time.Duration
}

func (m *recordingMetrics) RefreshStarted() { m.started.Add(1) }
func (m *recordingMetrics) RefreshCompleted(success bool, _ time.Duration) {
	if success {
		m.succeeded.Add(1)
	} else {
		m.failed.Add(1)
	}
}
func (m *recordingMetrics) RequestQueued() { m.queued.Add(1) }
func (m *recordingMetrics) QueuedRequestCancelled() { m.cancelled.Add(1) }
func (m *recordingMetrics) SessionInvalidated() { m.invalidated.Add(1) }
func (m *recordingMetrics) RequestReplayed(result string, waited time.Duration) {
	m.mu.Lock()
	m.replays = append(m.replays, result)
	m.waits = append(m.waits, waited)
	m.mu.Unlock()
}

type harness struct {
	api        *fakeAPI
	store      *countingStore
	refresher  *fakeRefresher
	metrics    *recordingMetrics
	terminated atomic.Int32
	client     *authclient.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		api:       newFakeAPI(newAccess),
		store:     &countingStore{Store: memstore.New(), saves: map[credentials.Kind]int{}},
		refresher: newFakeRefresher(),
		metrics:   &recordingMetrics{},
	}
	ctx := context.Background()
	require.NoError(t, h.store.Store.Save(ctx, credentials.AccessToken, oldAccess))
	require.NoError(t, h.store.Store.Save(ctx, credentials.RefreshToken, storedRefresh))
	return h
}

// gate makes the refresher block until the returned func is called.
func (h *harness) gate() func() {
	h.refresher.release = make(chan struct{})
	var once sync.Once
	return func() { once.Do(func() { close(h.refresher.release) }) }
}

func (h *harness) build(opts ...authclient.Option) *authclient.Client {
	return h.buildWith(h.refresher, opts...)
}

// buildWith wires the harness around a refresher other than h.refresher.
func (h *harness) buildWith(refresher authclient.Refresher, opts ...authclient.Option) *authclient.Client {
	opts = append([]authclient.Option{
		authclient.WithBaseTransport(h.api),
		authclient.WithLogger(zerolog.Nop()),
		authclient.WithMetrics(h.metrics),
		authclient.WithSessionTerminator(authclient.SessionTerminatorFunc(func() {
			h.terminated.Add(1)
		})),
	}, opts...)
	h.client = authclient.New(h.store, refresher, opts...)
	return h.client
}

type result struct {
	path string
	resp *http.Response
	err  error
}

func (h *harness) get(ctx context.Context, path string) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return result{path: path, err: err}
	}
	resp, err := h.client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	return result{path: path, resp: resp, err: err}
}

// goGet issues a GET on its own goroutine and delivers the result on the
// returned channel.
func (h *harness) goGet(ctx context.Context, path string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		ch <- h.get(ctx, path)
	}()
	return ch
}

func (h *harness) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.client.Coordinator().Pending() == n
	}, 2*time.Second, time.Millisecond, "expected %d pending requests", n)
}

// waitIdle allows for the drain loop finding the queue empty after the last
// replay was delivered.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.client.Coordinator().State() == authclient.Idle
	}, 2*time.Second, time.Millisecond)
}

func (h *harness) waitRefreshStarted(t *testing.T) {
	t.Helper()
	select {
	case <-h.refresher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not start")
	}
}

func receive(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
		return result{}
	}
}

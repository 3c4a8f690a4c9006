package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/failure"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/rs/zerolog"
)

// RefreshState is Idle or Refreshing.
type RefreshState int

const (
	Idle RefreshState = iota
	Refreshing
)

func (s RefreshState) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// OutcomeKind says how OnFailure disposed of a failed request.
type OutcomeKind int

const (
	// PassThrough: the failure does not concern the coordinator; Err is the
	// original error.
	PassThrough OutcomeKind = iota
	// Resolved: the request was replayed successfully; Response is the result.
	Resolved
	// Rejected: the request failed for good; Err says why.
	Rejected
)

type Outcome struct {
	Kind     OutcomeKind
	Response *http.Response
	Err      error
}

// SendFunc performs one round trip without any authentication handling.
type SendFunc func(*http.Request) (*http.Response, error)

// Coordinator is the on-failure hook. It owns the refresh state and the queue
// of requests waiting on a refresh. The zero value is not usable; see
// NewCoordinator.
type Coordinator struct {
	store         credentials.Store
	refresher     Refresher
	send          SendFunc
	authenticator *Authenticator
	terminator    SessionTerminator
	metrics       Metrics
	logger        zerolog.Logger
	timeout       time.Duration
	endpoint      *url.URL

	mu    sync.Mutex
	state RefreshState
	queue pendingQueue
}

// NewCoordinator builds a coordinator that replays requests through send.
func NewCoordinator(store credentials.Store, refresher Refresher, send SendFunc, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return newCoordinator(store, refresher, send, o)
}

func newCoordinator(store credentials.Store, refresher Refresher, send SendFunc, o options) *Coordinator {
	c := &Coordinator{
		store:         store,
		refresher:     refresher,
		send:          send,
		authenticator: NewAuthenticator(store, o.logger),
		terminator:    o.terminator,
		metrics:       o.metrics,
		logger:        o.logger,
		timeout:       o.refreshTimeout,
	}

	endpoint := o.refreshEndpoint
	if endpoint == "" {
		if tu, ok := refresher.(interface{ TokenURL() string }); ok {
			endpoint = tu.TokenURL()
		}
	}
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Ignoring unparsable refresh endpoint")
		} else {
			c.endpoint = u
		}
	}
	return c
}

// State returns the current refresh state.
func (c *Coordinator) State() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// OnFailure handles a failed request. req is the request as the caller issued
// it, before authentication. Anything other than an Unauthorized failure on a
// first attempt to a non-token endpoint passes through. Otherwise the call
// blocks until the request has been replayed, rejected, or its context is
// done.
func (c *Coordinator) OnFailure(req *http.Request, err error) Outcome {
	f := failure.FromError(err)
	if f == nil || f.Kind != failure.Unauthorized || !c.coordinates(req) {
		return Outcome{Kind: PassThrough, Err: err}
	}

	p := newPendingRequest(req, f)

	c.mu.Lock()
	claimed := c.state == Idle
	if claimed {
		c.state = Refreshing
	}
	c.queue.push(p)
	queued := c.queue.len()
	c.mu.Unlock()

	if claimed {
		c.logger.Info().Str("request_id", p.id).Msg("Access token rejected, refreshing")
		go c.refresh(context.WithoutCancel(req.Context()))
	} else {
		c.metrics.RequestQueued()
		c.logger.Debug().Str("request_id", p.id).Int("queue_len", queued).Msg("Refresh in progress, request queued")
	}

	return c.await(p)
}

func (c *Coordinator) coordinates(req *http.Request) bool {
	if isRetried(req) || skipsRefresh(req) {
		return false
	}
	return !c.isRefreshEndpoint(req.URL)
}

func (c *Coordinator) isRefreshEndpoint(u *url.URL) bool {
	if c.endpoint == nil || u == nil {
		return false
	}
	return u.Scheme == c.endpoint.Scheme && u.Host == c.endpoint.Host && u.Path == c.endpoint.Path
}

func (c *Coordinator) await(p *pendingRequest) Outcome {
	ctx := p.request.Context()
	select {
	case out := <-p.done:
		return out
	case <-ctx.Done():
	}

	c.mu.Lock()
	removed := c.queue.remove(p)
	c.mu.Unlock()
	if !removed {
		// Already taken for replay or rejection; its outcome is on the way.
		return <-p.done
	}

	p.failure.Discard()
	c.metrics.QueuedRequestCancelled()
	c.logger.Debug().Str("request_id", p.id).Msg("Queued request cancelled")
	return Outcome{Kind: Rejected, Err: failure.FromError(ctx.Err())}
}

// refresh runs one refresh episode. Only the goroutine that moved the state
// to Refreshing runs it.
func (c *Coordinator) refresh(ctx context.Context) {
	start := time.Now()
	c.metrics.RefreshStarted()

	err := c.exchange(ctx)
	c.metrics.RefreshCompleted(err == nil, time.Since(start))
	if err != nil {
		c.fail(ctx, err)
		return
	}

	c.logger.Info().Dur("duration", time.Since(start)).Msg("Access token refreshed")
	c.drain()
}

func (c *Coordinator) exchange(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	refreshToken, err := c.store.Get(ctx, credentials.RefreshToken)
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && refreshToken == "") {
		return apperrors.ErrNoRefreshToken
	}
	if err != nil {
		return apperrors.Wrapf(err, "failed to read refresh token")
	}

	cred, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}
	if cred.AccessToken == "" {
		return apperrors.ErrEmptyToken
	}

	// An empty RefreshToken keeps the stored one.
	if err := credentials.SaveCredential(ctx, c.store, cred); err != nil {
		return apperrors.Wrapf(err, "failed to persist refreshed credential")
	}
	return nil
}

// drain replays queued requests one at a time in arrival order. Requests
// queued while draining are replayed too. The state returns to Idle in the
// same critical section that finds the queue empty.
func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		p := c.queue.pop()
		if p == nil {
			c.state = Idle
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		p.complete(c.replay(p))
	}
}

func (c *Coordinator) replay(p *pendingRequest) Outcome {
	out, result := c.resend(p)
	waited := time.Since(p.queuedAt)
	c.metrics.RequestReplayed(result, waited)
	c.logger.Debug().Str("request_id", p.id).Str("result", result).Dur("waited", waited).Msg("Replayed queued request")
	return out
}

// resend replays p once and names the result for metrics.
func (c *Coordinator) resend(p *pendingRequest) (Outcome, string) {
	if err := p.request.Context().Err(); err != nil {
		return Outcome{Kind: Rejected, Err: failure.FromError(err)}, "cancelled"
	}

	req, err := rewind(p.request)
	if err != nil {
		c.logger.Warn().Err(err).Str("request_id", p.id).Msg("Cannot replay request")
		return Outcome{Kind: Rejected, Err: p.failure}, "not_replayable"
	}

	req = c.authenticator.BeforeSend(markRetried(req))
	resp, err := c.send(req)
	if f := failure.Classify(resp, err); f != nil {
		return Outcome{Kind: Rejected, Err: f}, f.Kind.String()
	}
	return Outcome{Kind: Resolved, Response: resp}, "resolved"
}

// fail ends an unrecoverable episode: both credentials go, the terminator runs
// once, and every queued request gets its own original failure.
func (c *Coordinator) fail(ctx context.Context, err error) {
	c.logger.Err(err).Msg("Token refresh failed, invalidating session")

	if rmErr := credentials.Clear(ctx, c.store); rmErr != nil {
		c.logger.Err(rmErr).Msg("Failed to remove credentials")
	}

	c.mu.Lock()
	pending := c.queue.takeAll()
	c.state = Idle
	c.mu.Unlock()

	// The session is gone before any caller sees its rejection.
	c.metrics.SessionInvalidated()
	c.terminator.OnSessionInvalid()

	for _, p := range pending {
		p.complete(Outcome{Kind: Rejected, Err: p.failure})
	}
}

// rewind returns a copy of req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, apperrors.ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBodyNotReplayable, err)
	}
	out.Body = body
	return out, nil
}

package authclient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/failure"
	"github.com/rs/zerolog"
)

// Client runs requests through the authenticate, send, classify, coordinate
// pipeline. It is safe for concurrent use; create one per credential scope.
type Client struct {
	base          http.RoundTripper
	authenticator *Authenticator
	coordinator   *Coordinator
	logger        zerolog.Logger
}

func New(store credentials.Store, refresher Refresher, opts ...Option) *Client {
	o := buildOptions(opts)
	c := &Client{
		base:          o.base,
		authenticator: NewAuthenticator(store, o.logger),
		logger:        o.logger,
	}
	c.coordinator = newCoordinator(store, refresher, o.base.RoundTrip, o)
	return c
}

// Coordinator exposes the on-failure hook, mainly for inspection.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// Do sends req. Any outcome other than a 2xx response is returned as an error
// that classifies with failure.KindOf. Status failures carry the response with
// its full body; close it, or call Discard on the failure, when done.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	resp, err := c.base.RoundTrip(c.authenticator.BeforeSend(req))
	f := failure.Classify(resp, err)
	if f == nil {
		return resp, nil
	}

	out := c.coordinator.OnFailure(req, f)
	if out.Kind == Resolved {
		return out.Response, nil
	}
	return nil, out.Err
}

// DoJSON sends req and decodes a successful response body into v. Decoding
// errors classify as failure.Parsing. A status failure keeps the start of its
// body in Failure.Body; the response itself is closed.
func (c *Client) DoJSON(req *http.Request, v any) error {
	resp, err := c.Do(req)
	if err != nil {
		var f *failure.Failure
		if errors.As(err, &f) {
			f.Discard()
		}
		return err
	}
	defer resp.Body.Close()

	if v == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return failure.FromDecode(err)
	}
	return nil
}

// Transport returns an http.RoundTripper running the pipeline. Status failures
// come back as responses, as net/http expects; transport failures as errors.
func (c *Client) Transport() http.RoundTripper {
	return &Transport{client: c}
}

// HTTPClient returns a stock *http.Client using Transport.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.Transport()}
}

// Transport adapts Client to http.RoundTripper.
type Transport struct {
	client *Client
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err == nil {
		return resp, nil
	}
	var f *failure.Failure
	if errors.As(err, &f) && f.Response != nil {
		return f.Response, nil
	}
	return nil, err
}

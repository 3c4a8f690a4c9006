package failure_test

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"syscall"
	"testing"

	"github.com/jrsteele09/go-auth-client/failure"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestClassifyResponse(t *testing.T) {
	t.Run("success is not a failure", func(t *testing.T) {
		require.Nil(t, failure.Classify(response(http.StatusOK, "ok"), nil))
		require.Nil(t, failure.Classify(response(http.StatusNoContent, ""), nil))
	})

	t.Run("401 is unauthorized", func(t *testing.T) {
		f := failure.Classify(response(http.StatusUnauthorized, `{"error":"expired"}`), nil)
		require.NotNil(t, f)
		require.Equal(t, failure.Unauthorized, f.Kind)
		require.Equal(t, http.StatusUnauthorized, f.StatusCode)
		require.Equal(t, `{"error":"expired"}`, string(f.Body))

		// The body stays readable for whoever receives the failure.
		body, err := io.ReadAll(f.Response.Body)
		require.NoError(t, err)
		require.Equal(t, `{"error":"expired"}`, string(body))
	})

	t.Run("other statuses are bad responses", func(t *testing.T) {
		for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway} {
			f := failure.Classify(response(status, ""), nil)
			require.Equal(t, failure.BadResponse, f.Kind, "status %d", status)
			require.Equal(t, status, f.StatusCode)
		}
	})

	t.Run("missing response", func(t *testing.T) {
		require.Equal(t, failure.Unknown, failure.Classify(nil, nil).Kind)
	})
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestClassifyLargeBody(t *testing.T) {
	payload := strings.Repeat("x", 100<<10)
	body := &trackedBody{Reader: strings.NewReader(payload)}
	resp := &http.Response{StatusCode: http.StatusNotFound, Body: body, Header: http.Header{}}

	f := failure.Classify(resp, nil)
	require.Equal(t, failure.BadResponse, f.Kind)
	require.NoError(t, f.Err)
	require.Len(t, f.Body, 64<<10)
	require.False(t, body.closed, "a body larger than the snapshot stays open for the caller")

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, string(got))

	f.Discard()
	require.True(t, body.closed)
}

func TestClassifySmallBodyReleasesConnection(t *testing.T) {
	body := &trackedBody{Reader: strings.NewReader("not here")}
	f := failure.Classify(&http.Response{StatusCode: http.StatusNotFound, Body: body, Header: http.Header{}}, nil)
	require.True(t, body.closed)
	require.Equal(t, "not here", string(f.Body))
}

func TestClassifyBodyReadError(t *testing.T) {
	readErr := errors.New("connection reset mid-body")
	resp := &http.Response{
		StatusCode: http.StatusInternalServerError,
		Body:       io.NopCloser(&failingReader{data: []byte("partial"), err: readErr}),
		Header:     http.Header{},
	}

	f := failure.Classify(resp, nil)
	require.Equal(t, failure.BadResponse, f.Kind)
	require.ErrorIs(t, f, readErr)
	require.Equal(t, "partial", string(f.Body))

	// The caller sees the same truncation the classifier did.
	got, err := io.ReadAll(f.Response.Body)
	require.ErrorIs(t, err, readErr)
	require.Equal(t, "partial", string(got))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"deadline", context.DeadlineExceeded, failure.Timeout},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, failure.Timeout},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, failure.Network},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, failure.Network},
		{"eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), failure.Network},
		{"unknown authority", &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}}, failure.BadCertificate},
		{"hostname", x509.HostnameError{Host: "x"}, failure.BadCertificate},
		{"json syntax", &json.SyntaxError{}, failure.Parsing},
		{"parsing sentinel", fmt.Errorf("decode: %w", failure.ErrParsing), failure.Parsing},
		{"canceled", context.Canceled, failure.Unknown},
		{"other", errors.New("boom"), failure.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := failure.Classify(nil, tt.err)
			require.NotNil(t, f)
			require.Equal(t, tt.want, f.Kind)
			require.ErrorIs(t, f, tt.err)
		})
	}
}

func TestClassifyRetrieveError(t *testing.T) {
	f := failure.FromError(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusUnauthorized}})
	require.Equal(t, failure.Unauthorized, f.Kind)

	f = failure.FromError(fmt.Errorf("refresh: %w", &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}, Body: []byte("invalid_grant")}))
	require.Equal(t, failure.BadResponse, f.Kind)
	require.Equal(t, http.StatusBadRequest, f.StatusCode)
	require.Equal(t, "invalid_grant", string(f.Body))
}

func TestClassifyRealTransport(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// The default client does not trust the test certificate.
	resp, err := http.Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Equal(t, failure.BadCertificate, failure.Classify(resp, err).Kind)

	addr := srv.Listener.Addr().String()
	srv.Close()
	resp, err = http.Get("http://" + addr)
	if resp != nil {
		resp.Body.Close()
	}
	require.Equal(t, failure.Network, failure.Classify(resp, err).Kind)
}

func TestKindHelpers(t *testing.T) {
	f := failure.Classify(response(http.StatusUnauthorized, ""), nil)
	wrapped := fmt.Errorf("call api: %w", f)

	require.Equal(t, failure.Unauthorized, failure.KindOf(wrapped))
	require.True(t, failure.Is(wrapped, failure.Unauthorized))
	require.False(t, failure.Is(nil, failure.Unauthorized))
	require.Same(t, f, failure.FromError(wrapped))

	require.Equal(t, failure.Parsing, failure.FromDecode(errors.New("bad")).Kind)
	require.Nil(t, failure.FromDecode(nil))

	require.Equal(t, "unauthorized (401)", f.Error())
	require.Equal(t, "bad_response", failure.BadResponse.String())
}

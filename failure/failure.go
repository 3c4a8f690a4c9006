// Package failure classifies request outcomes into a closed taxonomy so callers
// compare a Kind instead of inspecting status codes and error types.
package failure

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"golang.org/x/oauth2"
)

// Kind is the failure category.
type Kind int

const (
	Unknown Kind = iota
	Timeout
	Network
	BadCertificate
	// BadResponse is any non-2xx status other than 401. Failure.StatusCode holds it.
	BadResponse
	Unauthorized
	Parsing
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Network:
		return "network"
	case BadCertificate:
		return "bad_certificate"
	case BadResponse:
		return "bad_response"
	case Unauthorized:
		return "unauthorized"
	case Parsing:
		return "parsing"
	default:
		return "unknown"
	}
}

// maxBodyBytes bounds how much of a failed response body is kept in
// Failure.Body.
const maxBodyBytes = 64 << 10

// Failure is a classified request failure. Response is set for status
// failures. Body holds at most the first 64 KiB of the response body, while
// Response.Body still yields the whole of it. Bodies that fit in the prefix
// are fully buffered and their connection released; longer ones stay open
// until Response.Body is closed or Discard is called.
type Failure struct {
	Kind       Kind
	StatusCode int
	Response   *http.Response
	Body       []byte
	Err        error
}

func (f *Failure) Error() string {
	switch {
	case f.StatusCode != 0 && f.Err != nil:
		return fmt.Sprintf("%s (%d): %v", f.Kind, f.StatusCode, f.Err)
	case f.StatusCode != 0:
		return fmt.Sprintf("%s (%d)", f.Kind, f.StatusCode)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	default:
		return f.Kind.String()
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps a round trip result to a Failure. It returns nil for a 2xx
// response. A non-2xx response body is buffered and the original body closed.
func Classify(resp *http.Response, err error) *Failure {
	if err != nil {
		return FromError(err)
	}
	if resp == nil {
		return &Failure{Kind: Unknown, Err: errors.New("no response")}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fromResponse(resp)
}

func fromResponse(resp *http.Response) *Failure {
	f := &Failure{Kind: kindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Response: resp}
	if resp.Body == nil || resp.Body == http.NoBody {
		return f
	}

	// One byte past the limit tells a complete body from a cut one.
	prefix, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	switch {
	case err != nil:
		resp.Body.Close()
		f.Err = fmt.Errorf("failed to read response body: %w", err)
		f.Body = clip(prefix)
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(prefix), errReader{f.Err}))
	case len(prefix) <= maxBodyBytes:
		resp.Body.Close()
		f.Body = prefix
		resp.Body = io.NopCloser(bytes.NewReader(prefix))
	default:
		f.Body = clip(prefix)
		resp.Body = &replayedBody{Reader: io.MultiReader(bytes.NewReader(prefix), resp.Body), Closer: resp.Body}
	}
	return f
}

func clip(b []byte) []byte {
	if len(b) > maxBodyBytes {
		return b[:maxBodyBytes:maxBodyBytes]
	}
	return b
}

// replayedBody reads the buffered prefix and then the rest of the original
// body, which it closes.
type replayedBody struct {
	io.Reader
	io.Closer
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// Discard closes the response body of a status failure. Callers that keep
// only the Failure, and not its Response, call it to release the connection.
func (f *Failure) Discard() {
	if f != nil && f.Response != nil && f.Response.Body != nil {
		f.Response.Body.Close()
	}
}

func kindForStatus(status int) Kind {
	if status == http.StatusUnauthorized {
		return Unauthorized
	}
	return BadResponse
}

// FromError classifies a transport, token endpoint, or decoding error.
// An error that already is a Failure is returned unchanged.
func FromError(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil {
			return &Failure{Kind: Unknown, Err: err}
		}
		status := retrieveErr.Response.StatusCode
		return &Failure{Kind: kindForStatus(status), StatusCode: status, Response: retrieveErr.Response, Body: retrieveErr.Body, Err: err}
	}

	return &Failure{Kind: kindForError(err), Err: err}
}

func kindForError(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return Unknown
	}
	if isCertificateError(err) {
		return BadCertificate
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	if isParsingError(err) {
		return Parsing
	}
	if isNetworkError(err) {
		return Network
	}
	return Unknown
}

func isCertificateError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalid          x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		systemRoots      x509.SystemRootsError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification) ||
		errors.As(err, &systemRoots)
}

func isParsingError(err error) bool {
	var (
		syntax    *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		unmarshal *json.InvalidUnmarshalError
	)
	return errors.Is(err, ErrParsing) ||
		errors.As(err, &syntax) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &unmarshal)
}

func isNetworkError(err error) bool {
	var (
		opErr   *net.OpError
		dnsErr  *net.DNSError
		addrErr *net.AddrError
	)
	return errors.As(err, &opErr) ||
		errors.As(err, &dnsErr) ||
		errors.As(err, &addrErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// ErrParsing marks a response body that could not be decoded.
var ErrParsing = errors.New("response could not be parsed")

// FromDecode classifies a body decoding error as Parsing.
func FromDecode(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: Parsing, Err: err}
}

// KindOf returns the Kind of err, classifying it first if needed.
// A nil error has no kind and reports Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	return FromError(err).Kind
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

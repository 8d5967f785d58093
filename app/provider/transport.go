package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/sony/gobreaker"
)

// HTTPDoer is the outbound transport port. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read provider response. The body is buffered so an
// attempt can be classified and retried without holding the connection.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient_failure"
	default:
		return "permanent_failure"
	}
}

var retryableStatusCodes = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

func IsRetryableStatus(code int) bool {
	_, ok := retryableStatusCodes[code]
	return ok
}

// Classify turns a single attempt into a typed outcome consumed by RetryPolicy.
func Classify(resp *Response, err error) Outcome {
	if err != nil {
		if isTransientError(err) {
			return OutcomeTransient
		}
		return OutcomePermanent
	}
	if resp == nil {
		return OutcomePermanent
	}
	if resp.IsSuccess() {
		return OutcomeSuccess
	}
	if IsRetryableStatus(resp.StatusCode) {
		return OutcomeTransient
	}
	return OutcomePermanent
}

func isTransientError(err error) bool {
	// Caller deadlines are caught by RetryPolicy before classification; a
	// DeadlineExceeded reaching this point is the per-attempt client timeout.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

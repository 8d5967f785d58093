package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
		err  error
		want Outcome
	}{
		{name: "ok", resp: &Response{StatusCode: 200}, want: OutcomeSuccess},
		{name: "created", resp: &Response{StatusCode: 201}, want: OutcomeSuccess},
		{name: "request timeout", resp: &Response{StatusCode: 408}, want: OutcomeTransient},
		{name: "too many requests", resp: &Response{StatusCode: 429}, want: OutcomeTransient},
		{name: "server error", resp: &Response{StatusCode: 500}, want: OutcomeTransient},
		{name: "bad gateway", resp: &Response{StatusCode: 502}, want: OutcomeTransient},
		{name: "unavailable", resp: &Response{StatusCode: 503}, want: OutcomeTransient},
		{name: "gateway timeout", resp: &Response{StatusCode: 504}, want: OutcomeTransient},
		{name: "not implemented", resp: &Response{StatusCode: 501}, want: OutcomePermanent},
		{name: "bad request", resp: &Response{StatusCode: 400}, want: OutcomePermanent},
		{name: "not found", resp: &Response{StatusCode: 404}, want: OutcomePermanent},
		{name: "nil response", want: OutcomePermanent},
		{name: "timeout", err: timeoutError{}, want: OutcomeTransient},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: OutcomeTransient},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: OutcomeTransient},
		{name: "canceled", err: context.Canceled, want: OutcomePermanent},
		{name: "breaker open", err: gobreaker.ErrOpenState, want: OutcomePermanent},
		{name: "other error", err: errors.New("boom"), want: OutcomePermanent},
	}

	for _, tc := range cases {
		if got := Classify(tc.resp, tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newHTTPResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestBreakerDoerPassesServerErrorsThroughAndOpens(t *testing.T) {
	calls := 0
	doer := NewBreakerDoer(doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return newHTTPResponse(http.StatusServiceUnavailable, `{"message":"down"}`), nil
	}), BreakerConfig{Name: "test", FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://provider.test/v1/payments/1", nil)
		resp, err := doer.Do(req)
		if err != nil {
			t.Fatalf("expected 503 response to pass through, got error %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", resp.StatusCode)
		}
	}

	if doer.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be open, got %s", doer.State())
	}

	req, _ := http.NewRequest(http.MethodGet, "http://provider.test/v1/payments/1", nil)
	if _, err := doer.Do(req); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected open breaker to short-circuit, got %d calls", calls)
	}
}

func TestBreakerDoerKeepsClosedOnClientErrors(t *testing.T) {
	doer := NewBreakerDoer(doerFunc(func(*http.Request) (*http.Response, error) {
		return newHTTPResponse(http.StatusBadRequest, `{}`), nil
	}), BreakerConfig{FailureThreshold: 1})

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, "http://provider.test/checkout/preferences", nil)
		if _, err := doer.Do(req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if doer.State() != gobreaker.StateClosed {
		t.Fatalf("expected breaker to stay closed, got %s", doer.State())
	}
}

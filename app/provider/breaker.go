package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

var errProviderServerError = errors.New("provider server error")

type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// BreakerDoer trips after FailureThreshold consecutive transport errors or
// 5xx responses. 5xx responses are still handed back to the caller so the
// retry policy sees the real status code.
type BreakerDoer struct {
	next   HTTPDoer
	cb     *gobreaker.CircuitBreaker
	logger logrus.FieldLogger
}

func NewBreakerDoer(next HTTPDoer, cfg BreakerConfig) *BreakerDoer {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "mercadopago"
	}

	d := &BreakerDoer{
		next:   next,
		logger: factory.NewModuleLogger("provider-breaker"),
	}
	d.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			d.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Provider circuit breaker state changed")
		},
	})

	return d
}

func (d *BreakerDoer) State() gobreaker.State {
	return d.cb.State()
}

func (d *BreakerDoer) Do(req *http.Request) (*http.Response, error) {
	var serverResp *http.Response
	result, err := d.cb.Execute(func() (interface{}, error) {
		resp, err := d.next.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			serverResp = resp
			return nil, errProviderServerError
		}
		return resp, nil
	})
	if errors.Is(err, errProviderServerError) {
		return serverResp, nil
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

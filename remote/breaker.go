package remote

import (
	"github.com/blnkfinance/floorsync/config"
	"github.com/sony/gobreaker"
)

type CircuitBreaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (n *noopBreaker) Execute(fn func() error) error {
	return fn()
}

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g *gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// NewCircuitBreaker trips on transport-level failures only. A payload the
// remote rejects says nothing about its health, so it counts as a success.
func NewCircuitBreaker(cfg config.RemoteConfig) CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return &noopBreaker{}
	}

	settings := gobreaker.Settings{
		Name:        "floorsync-remote",
		MaxRequests: uint32(cfg.CBHalfOpenMaxSuccess),
		Interval:    cfg.CBSamplingDuration,
		Timeout:     cfg.CBRecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.CBMinRequests) {
				return false
			}
			return counts.TotalFailures >= uint32(cfg.CBFailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	}
	return &gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Package authclient wraps an external token-issuing collaborator with a
// circuit breaker: repeated failures to mint a fresh connect token (e.g. an
// identity provider outage) trip the breaker so reconnect attempts fail
// fast locally instead of piling up against a downed dependency.
package authclient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// TokenSource mints a connect token for a given client identity, typically
// by calling out to an identity provider or token-refresh endpoint.
type TokenSource interface {
	FetchToken(ctx context.Context, clientID string) (string, error)
}

// ErrBreakerOpen is returned in place of the underlying collaborator error
// while the breaker is open.
var ErrBreakerOpen = errors.New("authclient: circuit open, token source unavailable")

// Client decorates a TokenSource with a gobreaker circuit breaker.
type Client struct {
	next    TokenSource
	breaker *gobreaker.CircuitBreaker
}

// New wraps next. maxFailures is the consecutive-failure count that trips
// the breaker; openFor is how long it stays open before probing again.
func New(next TokenSource, maxFailures uint32, openFor time.Duration) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "auth_token_source",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &Client{next: next, breaker: cb}
}

// FetchToken calls through the breaker. A tripped breaker returns
// ErrBreakerOpen without invoking the underlying collaborator.
func (c *Client) FetchToken(ctx context.Context, clientID string) (string, error) {
	token, err := c.breaker.Execute(func() (any, error) {
		return c.next.FetchToken(ctx, clientID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrBreakerOpen
		}
		return "", err
	}
	return token.(string), nil
}

// Package auth declares the external collaborators the server session
// delegates identity, authorization, and application validation to. Token
// verification itself is out of this engine's scope; this package only
// names the capability set and ships a cached decorator and a permissive
// default for tests and examples.
package auth

import (
	"context"
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Authenticator verifies a connect token and resolves the caller's
// identity. Mid-connection re-validation (auth_failed on revocation) uses
// the same contract.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (identity string, err error)
	Revalidate(ctx context.Context, identity string) error
}

// Authorizer decides whether an identity may read/write a set of
// partitions.
type Authorizer interface {
	AuthorizePartitions(ctx context.Context, identity string, partitions []string) error
}

// Validator performs application-level validation of a submitted event,
// independent of the sync store's dedupe-equality check.
type Validator interface {
	Validate(ctx context.Context, partitions []string, event json.RawMessage) error
}

// AllowAll is a permissive Authenticator/Authorizer/Validator for tests and
// single-tenant examples: every token authenticates as itself and every
// partition is authorized.
type AllowAll struct{}

func (AllowAll) VerifyToken(_ context.Context, token string) (string, error) { return token, nil }
func (AllowAll) Revalidate(_ context.Context, _ string) error               { return nil }
func (AllowAll) AuthorizePartitions(_ context.Context, _ string, _ []string) error {
	return nil
}
func (AllowAll) Validate(_ context.Context, _ []string, _ json.RawMessage) error { return nil }

// CachedAuthorizer decorates an Authorizer with a per-(identity,partition-set)
// LRU cache of authorization decisions, trading a bounded amount of
// staleness for avoiding a round trip to the underlying collaborator on
// every sync/submit call.
type CachedAuthorizer struct {
	next  Authorizer
	cache *lru.Cache[string, error]
	mu    sync.Mutex
}

// NewCachedAuthorizer wraps next with an LRU cache of the given size.
func NewCachedAuthorizer(next Authorizer, size int) *CachedAuthorizer {
	cache, _ := lru.New[string, error](size)
	return &CachedAuthorizer{next: next, cache: cache}
}

func (c *CachedAuthorizer) AuthorizePartitions(ctx context.Context, identity string, partitions []string) error {
	key := cacheKey(identity, partitions)

	c.mu.Lock()
	if err, ok := c.cache.Get(key); ok {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	err := c.next.AuthorizePartitions(ctx, identity, partitions)

	c.mu.Lock()
	c.cache.Add(key, err)
	c.mu.Unlock()

	return err
}

func cacheKey(identity string, partitions []string) string {
	key := identity + "|"
	for _, p := range partitions {
		key += p + ","
	}
	return key
}

package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInFlight means a request with the same key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Key scopes a client key to the caller and route so two users can reuse
// the same header value.
func Key(clientKey, subject, method, path string) string {
	sum := sha256.Sum256([]byte(subject + "\x00" + method + "\x00" + path + "\x00" + clientKey))
	return hex.EncodeToString(sum[:])
}

// Begin returns the stored response for key if there is one. Otherwise it
// reserves the key and returns nil; the caller must then call Complete or
// Abandon.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	resp, err := i.store.Get(ctx, key)
	if err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.store.Reserve(ctx, key, i.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to a concurrent request; it may have finished already.
		resp, err := i.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, ErrInFlight
		}
		return resp, nil
	}
	return nil, nil
}

func (i *Idempotency) Complete(ctx context.Context, key string, resp Response) error {
	return i.store.Set(ctx, key, resp, i.ttl)
}

// Abandon drops the reservation so the client can retry.
func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.store.Forget(ctx, key)
}

// Package flagstore reads the remote "waiting room enabled" setting and
// provides a process-local cached view of it for the request hot path.
package flagstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrFlagNotFound = errors.New("flag not found")

// FlagStore fetches a named remote setting. The raw value is interpreted
// as a boolean via case-insensitive comparison with "true".
type FlagStore interface {
	GetFlag(ctx context.Context, name string) (string, error)
}

// FlagStoreFunc adapts a function to the FlagStore interface.
type FlagStoreFunc func(ctx context.Context, name string) (string, error)

func (f FlagStoreFunc) GetFlag(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

type RedisFlagStore struct {
	client *redis.Client
}

func NewRedisFlagStore(client *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{client: client}
}

func (s *RedisFlagStore) GetFlag(ctx context.Context, name string) (string, error) {
	val, err := s.client.Get(ctx, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", ErrFlagNotFound, name)
		}
		return "", fmt.Errorf("failed to get flag %s: %w", name, err)
	}
	return val, nil
}

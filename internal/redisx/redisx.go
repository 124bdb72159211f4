// Package redisx builds the three logical Redis clients the system
// needs: a general command client (Delivery Log, session revocation,
// rate-limit counters), a publisher and a subscriber — kept separate
// because a blocking Subscribe monopolizes its connection.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	URL      string
	Password string
}

type Clients struct {
	General    *redis.Client
	Publisher  *redis.Client
	Subscriber *redis.Client
}

func New(cfg Config) *Clients {
	opts := func() *redis.Options {
		return &redis.Options{
			Addr:         cfg.URL,
			Password:     cfg.Password,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     50,
			MinIdleConns: 5,
		}
	}
	return &Clients{
		General:    redis.NewClient(opts()),
		Publisher:  redis.NewClient(opts()),
		Subscriber: redis.NewClient(opts()),
	}
}

func (c *Clients) Close() error {
	var firstErr error
	for _, cl := range []*redis.Client{c.General, c.Publisher, c.Subscriber} {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Clients) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.General.Ping(pingCtx).Err() == nil
}

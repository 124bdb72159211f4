package server

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Logan27/1000-messenger-sub005/internal/config"
	"github.com/Logan27/1000-messenger-sub005/internal/deliverylog"
	"github.com/Logan27/1000-messenger-sub005/internal/deliveryworker"
	"github.com/Logan27/1000-messenger-sub005/internal/fabric"
	"github.com/Logan27/1000-messenger-sub005/internal/messageservice"
	"github.com/Logan27/1000-messenger-sub005/internal/middleware"
	"github.com/Logan27/1000-messenger-sub005/internal/redisx"
	"github.com/Logan27/1000-messenger-sub005/internal/session"
	"github.com/Logan27/1000-messenger-sub005/internal/store"
)

// openPostgres opens the primary pool and, if configured, the replica
// pool used for reads.
func openPostgres(cfg *config.Config) (primary, replica *sql.DB, err error) {
	primary, err = sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("server: open primary database: %w", err)
	}
	primary.SetMaxOpenConns(25)
	primary.SetMaxIdleConns(10)

	if cfg.DatabaseReplicaURL == "" {
		return primary, nil, nil
	}
	replica, err = sql.Open("postgres", cfg.DatabaseReplicaURL)
	if err != nil {
		return nil, nil, fmt.Errorf("server: open replica database: %w", err)
	}
	replica.SetMaxOpenConns(25)
	replica.SetMaxIdleConns(10)
	return primary, replica, nil
}

// domainBundle is every wired component the two HTTP surfaces (REST and
// WebSocket) and the background worker share.
type domainBundle struct {
	store    *store.Postgres
	redis    *redisx.Clients
	log      *deliverylog.Log
	sessions *session.Service
	verifier *middleware.Verifier
	messages *messageservice.Service
	hub      *fabric.Hub
	worker   *deliveryworker.Worker
}

func buildDomain(cfg *config.Config, primary, replica *sql.DB) *domainBundle {
	st := store.NewPostgres(primary, replica)
	rdb := redisx.New(redisx.Config{URL: cfg.RedisURL, Password: cfg.RedisPass})

	dlog := deliverylog.New(rdb.General)
	sessions := session.New(primary, rdb.General)
	verifier := middleware.NewVerifier(cfg.JWTSecret, sessions)

	bus := fabric.NewBus(rdb.Publisher, rdb.Subscriber)
	presence := fabric.NewPresenceTracker(rdb.General)

	// hub and messages are mutually referential (messages broadcasts
	// through the hub; the hub routes message:send ingress through
	// messages), so messages is built first with no broadcaster and is
	// wired to the hub with SetBroadcaster once the hub exists.
	messages := messageservice.New(st, dlog, nil)

	policy := deliveryworker.Policy{
		MaxRetries:   cfg.WorkerMaxRetries,
		RetryDelay:   cfg.WorkerRetryDelay,
		BatchSize:    int64(cfg.WorkerBatchSize),
		PollInterval: cfg.WorkerPollInterval,
		ErrorBackoff: cfg.WorkerErrorBackoff,
	}

	hub := fabric.NewHub(bus, presence, st, messages, nil)
	worker := deliveryworker.New(st, dlog, hub, policy, "delivery-worker-1")

	// Close the two cycles now that both sides exist.
	messages.SetBroadcaster(hub)
	hub.SetCatchUp(worker)

	return &domainBundle{
		store:    st,
		redis:    rdb,
		log:      dlog,
		sessions: sessions,
		verifier: verifier,
		messages: messages,
		hub:      hub,
		worker:   worker,
	}
}

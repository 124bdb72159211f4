// Package deliveryworker runs the fan-out engine: a long-running
// consumer of the delivery stream that pushes messages to online
// recipients and tracks per-recipient delivery state. It is
// parameterized over the Store, the delivery log and a narrow pusher
// interface so it is unit-testable without any network, per the
// cyclic-dependency guidance in the design notes (fabric needs the
// service to send; the service needs the fabric to push — broken here
// by mediating through the log instead of a direct call).
package deliveryworker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/deliverylog"
	"github.com/Logan27/1000-messenger-sub005/internal/metrics"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

// Pusher is the only fabric capability the worker depends on. It never
// knows about sockets, rooms or connection state beyond this.
type Pusher interface {
	PushToUser(ctx context.Context, userID uuid.UUID, event string, payload any) (delivered bool, err error)
}

// Store is the subset of store.Store the worker needs; declared locally
// so this package has no import-time dependency on the store package's
// full surface.
type Store interface {
	GetMessage(ctx context.Context, msgID uuid.UUID) (*models.Message, error)
	GetDeliveryRecord(ctx context.Context, msgID, recipientID uuid.UUID) (*models.DeliveryRecord, error)
	TransitionDelivery(ctx context.Context, msgID, recipientID uuid.UUID, target models.DeliveryStatus) error
	PendingDeliveries(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DeliveryRecord, error)
}

type Policy struct {
	MaxRetries   int
	RetryDelay   time.Duration
	BatchSize    int64
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   5,
		RetryDelay:   60 * time.Second,
		BatchSize:    10,
		PollInterval: time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

type Worker struct {
	store    Store
	log      *deliverylog.Log
	pusher   Pusher
	policy   Policy
	consumer string
	logger   *slog.Logger
}

func New(store Store, log *deliverylog.Log, pusher Pusher, policy Policy, consumerName string) *Worker {
	return &Worker{
		store:    store,
		log:      log,
		pusher:   pusher,
		policy:   policy,
		consumer: consumerName,
		logger:   slog.Default().With("component", "delivery-worker", "consumer", consumerName),
	}
}

// Run executes the main loop until ctx is cancelled: a new-jobs pass, a
// pending-retry pass, then a pacing sleep (or a longer back-off after an
// error in either pass).
func (w *Worker) Run(ctx context.Context) {
	if err := w.log.EnsureGroup(ctx, deliverylog.DeliveryStreamKey); err != nil {
		w.logger.Error("ensure consumer group failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		didWork, err := w.newJobsPass(ctx)
		if err != nil {
			w.logger.Warn("new-jobs pass failed", "error", err)
			sleep(ctx, w.policy.ErrorBackoff)
			continue
		}

		retriedWork, err := w.pendingRetryPass(ctx)
		if err != nil {
			w.logger.Warn("pending-retry pass failed", "error", err)
			sleep(ctx, w.policy.ErrorBackoff)
			continue
		}

		if !didWork && !retriedWork {
			sleep(ctx, w.policy.PollInterval)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) newJobsPass(ctx context.Context) (bool, error) {
	entries, err := w.log.ReadNew(ctx, deliverylog.DeliveryStreamKey, w.consumer, w.policy.BatchSize, w.policy.PollInterval)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		w.processEntry(ctx, e, 1)
	}
	return len(entries) > 0, nil
}

func (w *Worker) pendingRetryPass(ctx context.Context) (bool, error) {
	pending, err := w.log.ReadPending(ctx, deliverylog.DeliveryStreamKey, w.policy.RetryDelay, w.policy.BatchSize)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}

	ids := make([]string, len(pending))
	attemptsByID := make(map[string]int64, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
		attemptsByID[p.ID] = p.RetryCount
	}

	// retryDelay does double duty as both the claim-idle threshold above
	// and the new min-idle-time here, per design notes.
	claimed, err := w.log.Claim(ctx, deliverylog.DeliveryStreamKey, w.consumer, w.policy.RetryDelay, ids...)
	if err != nil {
		return false, err
	}
	for _, e := range claimed {
		w.processEntry(ctx, e, attemptsByID[e.ID])
	}
	return true, nil
}

// processEntry handles one stream entry. attempt is Redis's own delivery
// counter for this entry (1 on first delivery), used for the max-retries
// check since stream entries are immutable and cannot carry a mutated
// "attempts" field themselves.
func (w *Worker) processEntry(ctx context.Context, e deliverylog.Entry, attempt int64) {
	var job models.DeliveryJob
	if err := json.Unmarshal(e.Payload, &job); err != nil {
		w.logger.Error("malformed delivery job, dead-lettering", "entryId", e.ID, "error", err)
		w.deadLetter(ctx, e.ID, job, "malformed_payload")
		return
	}
	job.Attempts = int(attempt)

	if attempt > int64(w.policy.MaxRetries) {
		w.deadLetter(ctx, e.ID, job, "max_retries_exceeded")
		return
	}

	fullyDelivered := w.deliver(ctx, job)

	// A job is retried implicitly by not acknowledging it: if any
	// recipient is still offline, leave the entry pending so the next
	// pending-retry pass claims and re-attempts it after retryDelay.
	if !fullyDelivered {
		return
	}
	if err := w.log.Acknowledge(ctx, deliverylog.DeliveryStreamKey, e.ID); err != nil {
		w.logger.Warn("ack failed, job remains pending for retry", "entryId", e.ID, "error", err)
	}
}

// DeliverPendingForUser pushes any still-"sent" deliveries for userID
// directly, bypassing the delivery stream's retryDelay pacing. The fabric
// calls this when a socket for userID becomes Active, so a reconnecting
// user catches up immediately instead of waiting for the next retry pass.
func (w *Worker) DeliverPendingForUser(ctx context.Context, userID uuid.UUID) {
	records, err := w.store.PendingDeliveries(ctx, userID, 200)
	if err != nil {
		w.logger.Warn("catch-up: failed to list pending deliveries", "userId", userID, "error", err)
		return
	}
	for _, rec := range records {
		msg, err := w.store.GetMessage(ctx, rec.MessageID)
		if err != nil {
			continue
		}
		pushed, err := w.pusher.PushToUser(ctx, userID, "message.new", msg)
		if err != nil || !pushed {
			continue
		}
		if err := w.store.TransitionDelivery(ctx, msg.ID, userID, models.DeliveryDelivered); err != nil {
			w.logger.Warn("catch-up: failed to record delivered transition", "messageId", msg.ID, "recipient", userID, "error", err)
		}
	}
}

func (w *Worker) deadLetter(ctx context.Context, entryID string, job models.DeliveryJob, reason string) {
	entry := models.DeadLetterEntry{Job: job, FailedAt: time.Now(), Reason: reason}
	if _, err := w.log.Append(ctx, deliverylog.DeadLetterStreamKey, entry); err != nil {
		w.logger.Error("failed to append dead-letter entry", "error", err)
		return
	}
	metrics.DeadLettered.Inc()
	if err := w.log.Acknowledge(ctx, deliverylog.DeliveryStreamKey, entryID); err != nil {
		w.logger.Warn("ack of dead-lettered job failed", "entryId", entryID, "error", err)
	}
}

// deliver implements Deliver(job): re-reads the message, then for each
// recipient checks current status, queries liveness, and pushes or
// leaves the recipient for a later pass. Per-recipient failures never
// fail the whole job. It reports whether every recipient reached a
// terminal state (delivered, already-delivered, or read) — the caller
// uses this to decide whether the stream entry may be acknowledged.
func (w *Worker) deliver(ctx context.Context, job models.DeliveryJob) bool {
	start := time.Now()

	msg, err := w.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			w.logger.Info("message absent at delivery time, treating as terminal success", "messageId", job.MessageID)
			return true
		}
		w.logger.Warn("failed to re-read message for delivery", "messageId", job.MessageID, "error", err)
		return false
	}

	var delivered, skipped, offline, failed int
	for _, recipient := range job.Recipients {
		rec, err := w.store.GetDeliveryRecord(ctx, msg.ID, recipient)
		if err != nil {
			w.logger.Warn("failed to read delivery record", "messageId", msg.ID, "recipient", recipient, "error", err)
			failed++
			continue
		}
		if rec.Status.Reached(models.DeliveryDelivered) {
			skipped++
			metrics.DeliveryRecipientOutcome.WithLabelValues("already-delivered").Inc()
			continue
		}

		pushed, err := w.pusher.PushToUser(ctx, recipient, "message.new", msg)
		if err != nil {
			w.logger.Warn("push attempt errored, leaving recipient for retry", "messageId", msg.ID, "recipient", recipient, "error", err)
			failed++
			continue
		}
		if !pushed {
			offline++
			metrics.DeliveryRecipientOutcome.WithLabelValues("offline").Inc()
			continue
		}

		if err := w.store.TransitionDelivery(ctx, msg.ID, recipient, models.DeliveryDelivered); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("failed to record delivered transition", "messageId", msg.ID, "recipient", recipient, "error", err)
			failed++
			continue
		}
		delivered++
		metrics.DeliveryRecipientOutcome.WithLabelValues("delivered").Inc()
	}

	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	metrics.DeliveryJobsProcessed.WithLabelValues("processed").Inc()
	w.logger.Info("delivery job processed",
		"messageId", msg.ID, "delivered", delivered, "skipped", skipped, "offline", offline, "failed", failed,
		"elapsed", time.Since(start))

	return offline == 0 && failed == 0
}

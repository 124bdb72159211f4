package deliveryworker

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub005/internal/apperr"
	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

type fakeStore struct {
	msg            *models.Message
	getMessageErr  error
	records        map[uuid.UUID]*models.DeliveryRecord
	getRecordErr   error
	transitionErr  error
	transitioned   []uuid.UUID
	pending        []models.DeliveryRecord
	pendingErr     error
}

func (f *fakeStore) GetMessage(ctx context.Context, msgID uuid.UUID) (*models.Message, error) {
	if f.getMessageErr != nil {
		return nil, f.getMessageErr
	}
	return f.msg, nil
}

func (f *fakeStore) GetDeliveryRecord(ctx context.Context, msgID, recipientID uuid.UUID) (*models.DeliveryRecord, error) {
	if f.getRecordErr != nil {
		return nil, f.getRecordErr
	}
	return f.records[recipientID], nil
}

func (f *fakeStore) TransitionDelivery(ctx context.Context, msgID, recipientID uuid.UUID, target models.DeliveryStatus) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.transitioned = append(f.transitioned, recipientID)
	return nil
}

func (f *fakeStore) PendingDeliveries(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.DeliveryRecord, error) {
	return f.pending, f.pendingErr
}

type fakePusher struct {
	online map[uuid.UUID]bool
	err    error
	pushed []uuid.UUID
}

func (p *fakePusher) PushToUser(ctx context.Context, userID uuid.UUID, event string, payload any) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	p.pushed = append(p.pushed, userID)
	return p.online[userID], nil
}

func TestDeliverMessageAbsentIsTerminalSuccess(t *testing.T) {
	w := &Worker{store: &fakeStore{getMessageErr: apperr.New(apperr.NotFound, "gone")}, pusher: &fakePusher{}, logger: testLogger()}
	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: uuid.New()})
	assert.True(t, ok)
}

func TestDeliverStoreErrorIsRetryable(t *testing.T) {
	w := &Worker{store: &fakeStore{getMessageErr: errors.New("connection reset")}, pusher: &fakePusher{}, logger: testLogger()}
	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: uuid.New()})
	assert.False(t, ok)
}

func TestDeliverAllOnlineRecipientsSucceeds(t *testing.T) {
	msgID := uuid.New()
	r1, r2 := uuid.New(), uuid.New()
	fs := &fakeStore{
		msg: &models.Message{ID: msgID},
		records: map[uuid.UUID]*models.DeliveryRecord{
			r1: {Status: models.DeliverySent},
			r2: {Status: models.DeliverySent},
		},
	}
	pusher := &fakePusher{online: map[uuid.UUID]bool{r1: true, r2: true}}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: msgID, Recipients: []uuid.UUID{r1, r2}})
	assert.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{r1, r2}, fs.transitioned)
}

func TestDeliverOfflineRecipientLeavesJobUnacked(t *testing.T) {
	msgID := uuid.New()
	r1 := uuid.New()
	fs := &fakeStore{
		msg:     &models.Message{ID: msgID},
		records: map[uuid.UUID]*models.DeliveryRecord{r1: {Status: models.DeliverySent}},
	}
	pusher := &fakePusher{online: map[uuid.UUID]bool{r1: false}}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: msgID, Recipients: []uuid.UUID{r1}})
	assert.False(t, ok)
	assert.Empty(t, fs.transitioned)
}

func TestDeliverSkipsAlreadyDeliveredRecipient(t *testing.T) {
	msgID := uuid.New()
	r1 := uuid.New()
	fs := &fakeStore{
		msg:     &models.Message{ID: msgID},
		records: map[uuid.UUID]*models.DeliveryRecord{r1: {Status: models.DeliveryRead}},
	}
	pusher := &fakePusher{}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: msgID, Recipients: []uuid.UUID{r1}})
	assert.True(t, ok)
	assert.Empty(t, pusher.pushed, "already-delivered recipients are never pushed to again")
}

func TestDeliverPushErrorMarksJobRetryable(t *testing.T) {
	msgID := uuid.New()
	r1 := uuid.New()
	fs := &fakeStore{
		msg:     &models.Message{ID: msgID},
		records: map[uuid.UUID]*models.DeliveryRecord{r1: {Status: models.DeliverySent}},
	}
	pusher := &fakePusher{err: errors.New("socket write failed")}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	ok := w.deliver(context.Background(), models.DeliveryJob{MessageID: msgID, Recipients: []uuid.UUID{r1}})
	assert.False(t, ok)
}

func TestDeliverPendingForUserSkipsOfflineRecipient(t *testing.T) {
	userID := uuid.New()
	msgID := uuid.New()
	fs := &fakeStore{
		msg:     &models.Message{ID: msgID},
		pending: []models.DeliveryRecord{{MessageID: msgID, RecipientID: userID, Status: models.DeliverySent}},
	}
	pusher := &fakePusher{online: map[uuid.UUID]bool{userID: false}}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	w.DeliverPendingForUser(context.Background(), userID)
	assert.Empty(t, fs.transitioned)
}

func TestDeliverPendingForUserTransitionsOnlineRecipient(t *testing.T) {
	userID := uuid.New()
	msgID := uuid.New()
	fs := &fakeStore{
		msg:     &models.Message{ID: msgID},
		pending: []models.DeliveryRecord{{MessageID: msgID, RecipientID: userID, Status: models.DeliverySent}},
	}
	pusher := &fakePusher{online: map[uuid.UUID]bool{userID: true}}
	w := &Worker{store: fs, pusher: pusher, logger: testLogger()}

	w.DeliverPendingForUser(context.Background(), userID)
	require.Len(t, fs.transitioned, 1)
	assert.Equal(t, userID, fs.transitioned[0])
}

func TestDefaultPolicyMatchesSpecConstants(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, int64(10), p.BatchSize)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

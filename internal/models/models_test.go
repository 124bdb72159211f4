package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Logan27/1000-messenger-sub005/internal/models"
)

func TestDeliveryStatusReached(t *testing.T) {
	assert.True(t, models.DeliverySent.Reached(models.DeliverySent))
	assert.False(t, models.DeliverySent.Reached(models.DeliveryDelivered))
	assert.True(t, models.DeliveryDelivered.Reached(models.DeliverySent))
	assert.True(t, models.DeliveryRead.Reached(models.DeliveryDelivered))
	assert.False(t, models.DeliveryDelivered.Reached(models.DeliveryRead))
}

func TestMessageVisibleBody(t *testing.T) {
	m := &models.Message{Body: "hello"}
	assert.Equal(t, "hello", m.VisibleBody())

	m.Deleted = true
	assert.Equal(t, "[message deleted]", m.VisibleBody())
}

func TestMessageMarshalJSONUsesCamelCaseKeys(t *testing.T) {
	m := models.Message{Body: "hello"}
	body, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "hello", decoded["body"])
	assert.Contains(t, decoded, "convId")
	assert.Contains(t, decoded, "createdAt")
	assert.NotContains(t, decoded, "Body")
	assert.NotContains(t, decoded, "ConvID")
}

func TestMessageMarshalJSONSubstitutesPlaceholderWhenDeleted(t *testing.T) {
	m := &models.Message{Body: "secret", Deleted: true}
	body, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "[message deleted]", decoded["body"])
}

func TestMessageMarshalJSONOmitsNilOptionalFields(t *testing.T) {
	m := models.Message{Body: "hi"}
	body, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotContains(t, decoded, "senderId")
	assert.NotContains(t, decoded, "replyToId")
	assert.NotContains(t, decoded, "editedAt")
	assert.NotContains(t, decoded, "deletedAt")
}

func TestConversationDeleted(t *testing.T) {
	c := &models.Conversation{}
	assert.False(t, c.Deleted())

	now := time.Now()
	c.DeletedAt = &now
	assert.True(t, c.Deleted())
}

func TestParticipantActive(t *testing.T) {
	p := &models.Participant{}
	assert.True(t, p.Active())

	now := time.Now()
	p.LeftAt = &now
	assert.False(t, p.Active())
}

func TestSessionLoggedIn(t *testing.T) {
	now := time.Now()
	s := &models.Session{Active: true, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, s.LoggedIn(now))

	expired := &models.Session{Active: true, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.LoggedIn(now))

	inactive := &models.Session{Active: false, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, inactive.LoggedIn(now))
}

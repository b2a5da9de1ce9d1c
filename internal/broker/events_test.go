package broker

import (
	"testing"

	"tournament-payments/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJob(t *testing.T) {
	msg := kafka.Message{Value: []byte(`{
		"event_id": "job-1",
		"event_type": "ADD_PURCHASABLE_ITEM",
		"timestamp": "2026-03-14T18:00:00Z",
		"payload": {"bowler_id": 4, "item_id": 9, "source": "automatic", "automatic": true}
	}`)}

	job, err := DecodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.EventID)
	assert.Equal(t, models.JobTypeAddPurchasableItem, job.EventType)

	var payload models.AddPurchasableItemJob
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, models.AddPurchasableItemJob{
		BowlerID:  4,
		ItemID:    9,
		Source:    models.SourceAutomatic,
		Automatic: true,
	}, payload)
}

func TestDecodeJob_Invalid(t *testing.T) {
	_, err := DecodeJob(kafka.Message{Value: []byte(`{`)})
	assert.Error(t, err)

	_, err = DecodeJob(kafka.Message{Value: []byte(`{"event_id":"job-2"}`), Offset: 7})
	assert.ErrorContains(t, err, "offset 7")
}

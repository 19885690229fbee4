package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRetryPayloadRoundTrip(t *testing.T) {
	payload := ProviderRetryJobPayload{
		Op:             "cancel_subscription",
		SubscriptionID: "sub_123",
		Args:           map[string]string{"at_period_end": "true"},
	}

	restored, err := ProviderRetryJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload.Op, restored.Op)
	assert.Equal(t, payload.SubscriptionID, restored.SubscriptionID)
	assert.Equal(t, "true", restored.Args["at_period_end"])
}

func TestJobRetryLifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("provider unavailable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsFailed("provider unavailable")
	assert.False(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

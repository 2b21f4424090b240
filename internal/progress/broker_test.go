package progress

import (
	"testing"
	"time"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription) []models.ProgressEvent {
	t.Helper()
	var got []models.ProgressEvent
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("subscription was not closed in time")
		}
	}
}

func TestBroker_PublishAndSubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	other := b.Subscribe(2)
	defer b.Unsubscribe(other)

	b.Publish(models.ProgressEvent{ExamID: 1, Status: models.ProgressParsing, Progress: 5})
	b.Publish(models.ProgressEvent{ExamID: 1, Status: models.ProgressProcessingChunk, Progress: 27.456, CurrentChunk: 1, TotalChunks: 5})
	b.Publish(models.ProgressEvent{ExamID: 1, Status: models.ProgressCompleted, Progress: 100})

	got := drain(t, sub)
	require.Len(t, got, 3)
	assert.Equal(t, 27.5, got[1].Progress)
	assert.NotEmpty(t, got[0].Timestamp)
	assert.Equal(t, models.ProgressCompleted, got[2].Status)

	assert.Equal(t, 0, b.SubscriberCount(1))
	assert.Equal(t, 1, b.SubscriberCount(2))
	assert.Empty(t, other.C)
}

func TestBroker_ReplaysLatest(t *testing.T) {
	b := NewBroker()
	b.Publish(models.ProgressEvent{ExamID: 3, Status: models.ProgressSplitting, Progress: 15, TotalChunks: 4})

	sub := b.Subscribe(3)
	select {
	case ev := <-sub.C:
		assert.Equal(t, models.ProgressSplitting, ev.Status)
		assert.Equal(t, 4, ev.TotalChunks)
	case <-time.After(time.Second):
		t.Fatal("latest event was not replayed")
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // idempotent
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestBroker_TerminalLatestClosesImmediately(t *testing.T) {
	b := NewBroker()
	b.Publish(models.ProgressEvent{ExamID: 4, Status: models.ProgressFailed, Message: "bad format"})

	got := drain(t, b.Subscribe(4))
	require.Len(t, got, 1)
	assert.Equal(t, "bad format", got[0].Message)
	assert.Equal(t, 0, b.SubscriberCount(4))
}

func TestBroker_DropsSlowSubscriber(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(5)
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(models.ProgressEvent{ExamID: 5, Status: models.ProgressProcessingChunk, CurrentChunk: i})
	}
	got := drain(t, sub)
	assert.Len(t, got, subscriberBuffer)
	assert.Equal(t, 0, b.SubscriberCount(5))
}

func TestBroker_ClearAndPrune(t *testing.T) {
	b := NewBroker()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Publish(models.ProgressEvent{ExamID: 1, Status: models.ProgressCompleted})
	b.Publish(models.ProgressEvent{ExamID: 2, Status: models.ProgressParsing})
	sub := b.Subscribe(2)

	assert.Equal(t, 1, b.Prune(now.Add(time.Minute)))
	_, ok := b.Latest(1)
	assert.False(t, ok)
	_, ok = b.Latest(2)
	assert.True(t, ok, "running parses are never pruned")

	b.Clear(2)
	_, ok = b.Latest(2)
	assert.False(t, ok)
	drain(t, sub)
}

func TestBroker_Observe(t *testing.T) {
	b := NewBroker()
	var seen []models.ProgressStatus
	b.Observe(func(ev models.ProgressEvent) { seen = append(seen, ev.Status) })

	b.Publish(models.ProgressEvent{ExamID: 1, Status: models.ProgressParsing})
	b.Publish(models.ProgressEvent{ExamID: 2, Status: models.ProgressSaving})

	assert.Equal(t, []models.ProgressStatus{models.ProgressParsing, models.ProgressSaving}, seen)
}

func TestBroker_SubscribeSinceSkipsEarlierRun(t *testing.T) {
	b := NewBroker()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	b.Publish(models.ProgressEvent{ExamID: 6, Status: models.ProgressCompleted, Progress: 100})

	claimed := now.Add(time.Second)
	sub := b.SubscribeSince(6, claimed)
	defer b.Unsubscribe(sub)
	assert.Empty(t, sub.C)
	assert.Equal(t, 1, b.SubscriberCount(6))

	now = claimed.Add(time.Second)
	b.Publish(models.ProgressEvent{ExamID: 6, Status: models.ProgressPending})
	ev := <-sub.C
	assert.Equal(t, models.ProgressPending, ev.Status)

	// A terminal event of the new run is replayed.
	b.Publish(models.ProgressEvent{ExamID: 6, Status: models.ProgressCompleted, Progress: 100})
	got := drain(t, b.SubscribeSince(6, claimed))
	require.Len(t, got, 1)
	assert.Equal(t, models.ProgressCompleted, got[0].Status)
}

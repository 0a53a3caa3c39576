package progress

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/painscan/models"
)

func drain(t *testing.T, sub *Subscription) ([]string, *Terminal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msgs []string
	for {
		evt, err := sub.Next(ctx)
		if err == io.EOF {
			t.Fatal("stream ended without a terminal event")
		}
		require.NoError(t, err)
		if evt.Type == EventStatus {
			return msgs, evt.Terminal
		}
		msgs = append(msgs, evt.Log.Message)
	}
}

func TestFanOutDeliversFullStreamToEverySubscriber(t *testing.T) {
	hub := NewHub(16)
	a := hub.Subscribe("scan-1")
	b := hub.Subscribe("scan-1")
	other := hub.Subscribe("scan-2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	for i := 0; i < 5; i++ {
		hub.Publish("scan-1", models.NewLogEntry(models.PhaseHunt, fmt.Sprintf("line %d", i)))
	}
	hub.Finish("scan-1", Terminal{Status: models.StatusCompleted, FindingsCount: 2})

	want := []string{"line 0", "line 1", "line 2", "line 3", "line 4"}
	for _, sub := range []*Subscription{a, b} {
		msgs, term := drain(t, sub)
		assert.Equal(t, want, msgs)
		require.NotNil(t, term)
		assert.Equal(t, models.StatusCompleted, term.Status)
		assert.Equal(t, 2, term.FindingsCount)

		_, err := sub.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := other.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "other scans must not see scan-1 events")
}

func TestSlowSubscriberNeverBlocksPublisherAndStillGetsTerminal(t *testing.T) {
	hub := NewHub(2)
	sub := hub.Subscribe("scan-1")
	defer sub.Close()

	published := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Publish("scan-1", models.NewLogEntry(models.PhaseExplain, fmt.Sprintf("line %d", i)))
		}
		hub.Finish("scan-1", Terminal{Status: models.StatusFailed, Error: "boom"})
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	msgs, term := drain(t, sub)
	assert.Len(t, msgs, 2)
	assert.Equal(t, []string{"line 0", "line 1"}, msgs, "received logs must be a prefix in order")
	assert.EqualValues(t, 48, sub.Dropped())
	require.NotNil(t, term)
	assert.Equal(t, models.StatusFailed, term.Status)
}

func TestLateSubscriberCanBeFinishedDirectly(t *testing.T) {
	hub := NewHub(4)
	hub.Finish("scan-1", Terminal{Status: models.StatusCompleted})

	sub := hub.Subscribe("scan-1")
	defer sub.Close()
	sub.Finish(Terminal{Status: models.StatusCompleted, FindingsCount: 1})
	sub.Finish(Terminal{Status: models.StatusFailed})

	_, term := drain(t, sub)
	assert.Equal(t, models.StatusCompleted, term.Status)
	assert.Equal(t, 1, term.FindingsCount)
}

func TestSubscriberCountTracksCloses(t *testing.T) {
	hub := NewHub(1)
	a := hub.Subscribe("x")
	b := hub.Subscribe("y")
	assert.Equal(t, 2.0, hub.SubscriberCount())
	a.Close()
	a.Close()
	assert.Equal(t, 1.0, hub.SubscriberCount())
	b.Close()
	assert.Equal(t, 0.0, hub.SubscriberCount())
}

func TestTerminalFromRecordCarriesFailureMessage(t *testing.T) {
	rec := models.ScanRecord{
		Status: models.StatusFailed,
		Logs: []models.LogEntry{
			models.NewLogEntry(models.PhaseQueue, "Scan queued"),
			models.NewLogEntry(models.PhasePlan, "Plan failed: connection refused"),
		},
	}
	term := TerminalFromRecord(rec)
	assert.Equal(t, "Plan failed: connection refused", term.Error)
	assert.Equal(t, 0, term.FindingsCount)
}

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusDeliversInOrderPerGuildAndKind(t *testing.T) {
	bus := NewBus(Config{Lanes: 4, LaneBuffer: 8}, zap.NewNop())
	var mu sync.Mutex
	var got []string
	bus.Subscribe(MessageCreate, "recorder", func(ctx context.Context, ev *Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Message.ID)
		return nil
	})
	bus.Start()
	defer bus.Close(context.Background())

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, bus.Publish(context.Background(), &Event{Kind: MessageCreate, GuildID: "g1", Message: &Message{ID: id}}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, got)
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	bus := NewBus(Config{Lanes: 1}, zap.NewNop())
	delivered := make(chan struct{}, 1)
	bus.Subscribe(ReactionAdd, "broken", func(ctx context.Context, ev *Event) error {
		panic("boom")
	})
	bus.Subscribe(ReactionAdd, "healthy", func(ctx context.Context, ev *Event) error {
		delivered <- struct{}{}
		return nil
	})
	bus.Start()
	defer bus.Close(context.Background())

	require.NoError(t, bus.Publish(context.Background(), &Event{Kind: ReactionAdd, GuildID: "g1"}))
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber never received the event")
	}
}

func TestBusRejectsPublishAfterClose(t *testing.T) {
	bus := NewBus(Config{}, zap.NewNop())
	bus.Start()
	bus.Close(context.Background())
	err := bus.Publish(context.Background(), &Event{Kind: MessageCreate})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSnowflakeHelpers(t *testing.T) {
	ts, ok := SnowflakeTime("175928847299117063")
	require.True(t, ok)
	assert.Equal(t, 2016, ts.UTC().Year())
	assert.True(t, SnowflakeLess("9", "10"))
	assert.False(t, SnowflakeLess("10", "9"))
}

func TestEmojiKeys(t *testing.T) {
	custom := Emoji{ID: "42", Name: "party", Animated: true}
	assert.Equal(t, "42", custom.Key())
	assert.Equal(t, "party:42", custom.APIName())
	assert.Equal(t, "<a:party:42>", custom.String())
	unicode := Emoji{Name: "⭐"}
	assert.Equal(t, "⭐", unicode.Key())
	assert.Equal(t, "⭐", unicode.String())
}

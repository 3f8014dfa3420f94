package retrigger

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const lastRunTTL = 7 * 24 * time.Hour

// Run is the record of the most recent trigger executed in a channel.
type Run struct {
	Name      string  `msgpack:"name"`
	Regex     string  `msgpack:"regex"`
	ChannelID string  `msgpack:"channel_id"`
	MessageID string  `msgpack:"message_id"`
	Timestamp float64 `msgpack:"timestamp"`
	Error     string  `msgpack:"error,omitempty"`
}

func (r Run) At() time.Time {
	return time.Unix(0, int64(r.Timestamp*float64(time.Second)))
}

func lastRunKey(channelID string) string {
	return "last_trigger:" + channelID
}

func (e *Engine) recordRun(ctx context.Context, run Run) {
	payload, err := msgpack.Marshal(run)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, lastRunKey(run.ChannelID), payload, lastRunTTL); err != nil {
		e.logger.Debug("storing last trigger run failed", zap.String("channel_id", run.ChannelID), zap.Error(err))
	}
}

// LastRun returns the last trigger executed in the channel, if any.
func (e *Engine) LastRun(ctx context.Context, channelID string) (Run, bool, error) {
	payload, err := e.cache.Get(ctx, lastRunKey(channelID))
	if err != nil || payload == nil {
		return Run{}, false, err
	}
	var run Run
	if err := msgpack.Unmarshal(payload, &run); err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

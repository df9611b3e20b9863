package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
)

type failingSink struct{}

func (failingSink) Send(string) error { return errors.New("down") }

func TestMemorySinkKeepsMostRecent(t *testing.T) {
	s := NewMemorySink(2)
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, s.Send(m))
	}
	assert.Equal(t, []string{"b", "c"}, s.Recent())
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	mem := NewMemorySink(10)
	err := MultiSink{failingSink{}, mem}.Send("breaker tripped")
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"breaker tripped"}, mem.Recent())
}

func TestMonitorForwardsSafetyEvents(t *testing.T) {
	bus := events.NewBus()
	mem := NewMemorySink(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &Monitor{Bus: bus, Sink: mem}
	m.Start(ctx)

	bus.Publish(events.EventKillSwitch, events.KillSwitchEvent{Engaged: true, Reason: "breaker:rejects"})
	bus.Publish(events.EventRiskAlert, events.RiskAlert{Source: "breakers", Message: "latency p95 high"})

	require.Eventually(t, func() bool { return len(mem.Recent()) == 2 }, time.Second, 5*time.Millisecond)
	joined := strings.Join(mem.Recent(), "\n")
	assert.Contains(t, joined, "kill switch engaged (breaker:rejects)")
	assert.Contains(t, joined, "breakers: latency p95 high")
}

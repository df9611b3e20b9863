package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
)

// Monitor watches safety-relevant events and forwards them to an alert sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeMany(50, events.EventRiskAlert, events.EventKillSwitch)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(env.Payload)); err != nil {
					log.Printf("alert delivery failed: %v", err)
				}
			}
		}
	}()
}

func formatAlert(msg any) string {
	return "[" + time.Now().UTC().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.RiskAlert:
		return t.Source + ": " + t.Message
	case events.KillSwitchEvent:
		if t.Engaged {
			return fmt.Sprintf("kill switch engaged (%s)", t.Reason)
		}
		return "kill switch reset"
	default:
		return "alert triggered"
	}
}

// Package killswitch implements the durable trading halt flag.
//
// Presence of the flag file means engaged. Any read failure other than
// "file does not exist" is treated as engaged.
package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const historySize = 50

// ErrResetBlocked is returned when an unforced reset meets a hard halt reason.
var ErrResetBlocked = errors.New("kill switch reset blocked")

// Info describes the current flag state.
type Info struct {
	Engaged   bool       `json:"engaged"`
	Reason    string     `json:"reason,omitempty"`
	EngagedAt *time.Time `json:"engaged_at,omitempty"`
	Forced    bool       `json:"forced,omitempty"`
	CanReset  bool       `json:"can_reset"`
}

// HardReason reports whether reason came from a risk or breaker trip. Those
// halts need a forced reset.
func HardReason(reason string) bool {
	return strings.HasPrefix(reason, "risk:") || strings.HasPrefix(reason, "breaker:")
}

// Event is one engage/reset transition.
type Event struct {
	Action string    `json:"action"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
	Err    string    `json:"error,omitempty"`
}

type marker struct {
	Reason    string    `json:"reason,omitempty"`
	EngagedAt time.Time `json:"engaged_at"`
}

// KillSwitch is a file-backed halt flag.
type KillSwitch struct {
	path   string
	forced bool

	mu      sync.Mutex
	history []Event
}

// Option customises a KillSwitch.
type Option func(*KillSwitch)

// WithForcedHalt makes Engaged always report true (TRADE_HALT).
func WithForcedHalt(forced bool) Option {
	return func(k *KillSwitch) { k.forced = forced }
}

// New returns a kill switch backed by the file at path.
func New(path string, opts ...Option) *KillSwitch {
	if path == "" {
		path = ".kill_switch"
	}
	k := &KillSwitch{path: path}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Path returns the flag file location.
func (k *KillSwitch) Path() string { return k.path }

// Engage sets the flag. Persistence failures are logged and otherwise ignored.
func (k *KillSwitch) Engage(reason string) {
	if err := k.write(reason); err != nil {
		log.Printf("⚠️ kill switch engage could not persist flag %s: %v", k.path, err)
	}
}

// EngageContext sets the flag and reports persistence failures to the caller.
func (k *KillSwitch) EngageContext(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.write(reason)
}

func (k *KillSwitch) write(reason string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.writeMarker(marker{Reason: reason, EngagedAt: time.Now().UTC()})
	ev := Event{Action: "engage", Reason: reason, At: time.Now().UTC()}
	if err != nil {
		ev.Err = err.Error()
	} else {
		log.Printf("🛑 kill switch engaged (reason=%q)", reason)
	}
	k.record(ev)
	return err
}

func (k *KillSwitch) writeMarker(m marker) error {
	if dir := filepath.Dir(k.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create kill switch dir: %w", err)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, data, 0o644)
}

// Reset clears the flag.
func (k *KillSwitch) Reset() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := os.Remove(k.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	ev := Event{Action: "reset", At: time.Now().UTC()}
	if err != nil {
		ev.Err = err.Error()
	} else {
		log.Printf("✓ kill switch reset")
	}
	k.record(ev)
	return err
}

// ResetContext is Reset for callers holding a context.
func (k *KillSwitch) ResetContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.Reset()
}

// ResetGuarded clears the flag unless it holds a hard reason and force is
// false. A refused reset is recorded as "reset_blocked" and returns
// ErrResetBlocked.
func (k *KillSwitch) ResetGuarded(ctx context.Context, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info := k.Info()
	if !info.Engaged {
		return nil
	}
	if !force && HardReason(info.Reason) {
		k.mu.Lock()
		k.record(Event{Action: "reset_blocked", Reason: info.Reason, At: time.Now().UTC()})
		k.mu.Unlock()
		log.Printf("⚠️ kill switch reset refused (reason=%q), force required", info.Reason)
		return fmt.Errorf("%w: reason %q", ErrResetBlocked, info.Reason)
	}
	return k.Reset()
}

// SafeArm clears a soft halt before trading starts and leaves hard halts in
// place. It reports whether the switch is still engaged afterwards.
func (k *KillSwitch) SafeArm(ctx context.Context) (bool, error) {
	err := k.ResetGuarded(ctx, false)
	if err != nil && !errors.Is(err, ErrResetBlocked) {
		return k.Engaged(), err
	}
	return k.Engaged(), nil
}

// Engaged reports whether trading is halted.
func (k *KillSwitch) Engaged() bool {
	return k.Info().Engaged
}

// EngagedContext is Engaged for callers holding a context.
func (k *KillSwitch) EngagedContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	return k.Engaged(), nil
}

// Info returns the flag state including the stored reason.
func (k *KillSwitch) Info() Info {
	if k.forced {
		return Info{Engaged: true, Reason: "trade_halt_env", Forced: true}
	}
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return Info{CanReset: true}
	}
	if err != nil {
		return Info{Engaged: true, Reason: "kill_switch_unreadable", CanReset: true}
	}
	info := Info{Engaged: true}
	var m marker
	if len(data) > 0 && json.Unmarshal(data, &m) == nil {
		info.Reason = m.Reason
		if !m.EngagedAt.IsZero() {
			at := m.EngagedAt
			info.EngagedAt = &at
		}
	}
	info.CanReset = !HardReason(info.Reason)
	return info
}

// History returns recent transitions, newest first.
func (k *KillSwitch) History() []Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Event, len(k.history))
	for i, ev := range k.history {
		out[len(k.history)-1-i] = ev
	}
	return out
}

func (k *KillSwitch) record(ev Event) {
	k.history = append(k.history, ev)
	if len(k.history) > historySize {
		k.history = k.history[len(k.history)-historySize:]
	}
}

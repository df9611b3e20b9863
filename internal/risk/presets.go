package risk

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a named set of admission limits.
type Preset struct {
	Name              string  `yaml:"-" json:"name"`
	DailyLossLimit    float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	PerTradeRiskPct   float64 `yaml:"per_trade_risk_pct" json:"per_trade_risk_pct"`
	MaxPositions      int     `yaml:"max_positions" json:"max_positions"`
	MaxNotional       float64 `yaml:"max_notional" json:"max_notional"`
	MaxSymbolNotional float64 `yaml:"max_symbol_notional" json:"max_symbol_notional"`
	CooldownSec       float64 `yaml:"cooldown_sec" json:"cooldown_sec"`
	OptionsMinOI      int     `yaml:"options_min_oi" json:"options_min_oi"`
	OptionsMinVolume  int     `yaml:"options_min_volume" json:"options_min_volume"`
	OptionsDeltaMin   float64 `yaml:"options_delta_min" json:"options_delta_min"`
	OptionsDeltaMax   float64 `yaml:"options_delta_max" json:"options_delta_max"`
}

var builtinPresets = map[string]Preset{
	"safe": {
		Name: "safe", DailyLossLimit: 500, PerTradeRiskPct: 0.25, MaxPositions: 3,
		MaxNotional: 25000, MaxSymbolNotional: 7500, CooldownSec: 300,
		OptionsMinOI: 200, OptionsMinVolume: 100, OptionsDeltaMin: 0.20, OptionsDeltaMax: 0.35,
	},
	"balanced": {
		Name: "balanced", DailyLossLimit: 1000, PerTradeRiskPct: 0.5, MaxPositions: 5,
		MaxNotional: 50000, MaxSymbolNotional: 15000, CooldownSec: 180,
		OptionsMinOI: 150, OptionsMinVolume: 75, OptionsDeltaMin: 0.18, OptionsDeltaMax: 0.40,
	},
	"high": {
		Name: "high", DailyLossLimit: 2000, PerTradeRiskPct: 1.0, MaxPositions: 8,
		MaxNotional: 100000, MaxSymbolNotional: 30000, CooldownSec: 120,
		OptionsMinOI: 100, OptionsMinVolume: 50, OptionsDeltaMin: 0.15, OptionsDeltaMax: 0.45,
	},
}

// BuiltinPreset returns one of safe, balanced, high.
func BuiltinPreset(name string) (Preset, bool) {
	p, ok := builtinPresets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// LoadPresetFile reads a YAML document mapping preset names to limits.
// Fields left out of a preset inherit from the builtin of the same name.
func LoadPresetFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk presets: %w", err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse risk presets: %w", err)
	}
	out := make(map[string]Preset, len(raw))
	for name, node := range raw {
		key := strings.ToLower(name)
		p, ok := builtinPresets[key]
		if !ok {
			p = builtinPresets["balanced"]
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		p.Name = key
		out[key] = p
	}
	return out, nil
}

// ResolvePreset picks the named preset (file first, then builtin, then balanced)
// and applies per-limit environment overrides. lookup may be nil.
func ResolvePreset(profile, file string, lookup func(string) string) (Preset, error) {
	name := strings.ToLower(strings.TrimSpace(profile))
	if name == "" {
		name = "balanced"
	}

	var (
		p     Preset
		found bool
	)
	if file != "" {
		fromFile, err := LoadPresetFile(file)
		if err != nil {
			return Preset{}, err
		}
		p, found = fromFile[name]
	}
	if !found {
		p, found = builtinPresets[name]
	}
	if !found {
		p = builtinPresets["balanced"]
	}

	if lookup == nil {
		lookup = os.Getenv
	}
	overrideFloat(lookup, "DAILY_LOSS_LIMIT", &p.DailyLossLimit)
	overrideFloat(lookup, "PER_TRADE_RISK_PCT", &p.PerTradeRiskPct)
	overrideInt(lookup, "MAX_POSITIONS", &p.MaxPositions)
	overrideFloat(lookup, "MAX_NOTIONAL", &p.MaxNotional)
	overrideFloat(lookup, "MAX_SYMBOL_NOTIONAL", &p.MaxSymbolNotional)
	overrideFloat(lookup, "COOLDOWN_SEC", &p.CooldownSec)
	overrideInt(lookup, "OPTIONS_MIN_OI", &p.OptionsMinOI)
	overrideInt(lookup, "OPTIONS_MIN_VOLUME", &p.OptionsMinVolume)
	overrideFloat(lookup, "OPTIONS_DELTA_MIN", &p.OptionsDeltaMin)
	overrideFloat(lookup, "OPTIONS_DELTA_MAX", &p.OptionsDeltaMax)
	return p, nil
}

func overrideFloat(lookup func(string) string, key string, dst *float64) {
	if v := strings.TrimSpace(lookup(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func overrideInt(lookup func(string) string, key string, dst *int) {
	if v := strings.TrimSpace(lookup(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

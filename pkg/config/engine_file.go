package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngineFile is the optional YAML overlay for risk and exit tuning.
// Zero values leave the environment setting untouched.
type EngineFile struct {
	Symbols  []string `yaml:"symbols"`
	Interval string   `yaml:"interval"`

	Risk struct {
		Leverage         int     `yaml:"leverage"`
		MarginPerTrade   float64 `yaml:"margin_per_trade"`
		MaxOpenPositions int     `yaml:"max_open_positions"`
		MaintMarginRate  float64 `yaml:"maint_margin_rate"`
		DirectionFilter  string  `yaml:"direction_filter"`
	} `yaml:"risk"`

	Exit struct {
		Mode                      string  `yaml:"mode"`
		PnLTargetPercent          float64 `yaml:"pnl_target_percent"`
		RRDivider                 float64 `yaml:"rr_divider"`
		BaseTPPercent             float64 `yaml:"base_tp_percent"`
		StopMultiplier            float64 `yaml:"stop_multiplier"`
		TrailingATRMultiplier     float64 `yaml:"trailing_atr_multiplier"`
		TrailingActivationPercent float64 `yaml:"trailing_activation_percent"`
		TrailingCallbackPercent   float64 `yaml:"trailing_callback_percent"`
	} `yaml:"exit"`
}

// LoadEngineFile reads the engine overlay from a YAML file.
func LoadEngineFile(path string) (*EngineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file EngineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// Apply copies every non-zero overlay value into cfg.
func (f *EngineFile) Apply(cfg *Config) {
	if f == nil || cfg == nil {
		return
	}
	if len(f.Symbols) > 0 {
		cfg.Symbols = splitAndTrim(strings.Join(f.Symbols, ","))
	}
	setString(&cfg.Interval, f.Interval)

	setInt(&cfg.Leverage, f.Risk.Leverage)
	setFloat(&cfg.MarginPerTrade, f.Risk.MarginPerTrade)
	setInt(&cfg.MaxOpenPositions, f.Risk.MaxOpenPositions)
	setFloat(&cfg.MaintMarginRate, f.Risk.MaintMarginRate)
	setString(&cfg.DirectionFilter, strings.ToLower(f.Risk.DirectionFilter))

	setString(&cfg.ExitMode, strings.ToLower(f.Exit.Mode))
	setFloat(&cfg.PnLTargetPercent, f.Exit.PnLTargetPercent)
	setFloat(&cfg.RRDivider, f.Exit.RRDivider)
	setFloat(&cfg.BaseTPPercent, f.Exit.BaseTPPercent)
	setFloat(&cfg.StopMultiplier, f.Exit.StopMultiplier)
	setFloat(&cfg.TrailingATRMultiplier, f.Exit.TrailingATRMultiplier)
	setFloat(&cfg.TrailingActivationPercent, f.Exit.TrailingActivationPercent)
	setFloat(&cfg.TrailingCallbackPercent, f.Exit.TrailingCallbackPercent)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

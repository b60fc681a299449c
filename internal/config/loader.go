package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/reciter/internal/playback"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	r := cfg.Recite
	errs = append(errs,
		intRange("recite.group_size", r.GroupSize, playback.MinGroupSize, playback.MaxGroupSize),
		intRange("recite.repeat_per_group", r.RepeatPerGroup, playback.MinRepeatPerGroup, playback.MaxRepeatPerGroup),
		intRange("recite.full_read_before_groups", r.FullReadBeforeGroups, playback.MinFullRead, playback.MaxFullRead),
		intRange("recite.full_read_after_groups", r.FullReadAfterGroups, playback.MinFullRead, playback.MaxFullRead),
		intRange("recite.review_prev_repeat_count", r.ReviewPrevRepeatCount, playback.MinReviewRepeatCount, playback.MaxReviewRepeatCount),
	)
	if r.Threshold < 0 || r.Threshold > 1 {
		errs = append(errs, fmt.Errorf("recite.threshold %.2f is out of range [0, 1]", r.Threshold))
	}
	if r.SpeechRate < MinSpeechRate || r.SpeechRate > MaxSpeechRate {
		errs = append(errs, fmt.Errorf("recite.speech_rate %.2f is out of range [%.1f, %.1f]", r.SpeechRate, MinSpeechRate, MaxSpeechRate))
	}
	if !r.Scorer.IsValid() {
		errs = append(errs, fmt.Errorf("recite.scorer %q is invalid; valid values: dice, jaro-winkler", r.Scorer))
	}

	if r.AutoPlayNextQA && r.ForceReciteCheck {
		slog.Warn("recite.auto_play_next_qa has no effect while recite.force_recite_check is on")
	}
	if cfg.Store.PostgresDSN == "" && cfg.Store.CollectionFile == "" {
		slog.Warn("store.postgres_dsn and store.collection_file are empty; the item store starts empty")
	}

	return errors.Join(errs...)
}

func intRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d is out of range [%d, %d]", key, v, lo, hi)
	}
	return nil
}

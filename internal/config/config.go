// Package config provides the configuration schema, loader, watcher and
// settings diff for the reciter.
package config

import (
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/session"
	"github.com/MrWong99/reciter/internal/similarity"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Speech rate bounds accepted by [Validate].
const (
	MinSpeechRate = 0.5
	MaxSpeechRate = 4.0
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Recite ReciteConfig `yaml:"recite"`
}

// ServerConfig holds logging and the optional observability listener.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StoreConfig selects where items live.
type StoreConfig struct {
	// PostgresDSN selects the PostgreSQL item store. Empty keeps items in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// CollectionFile is a YAML collections file imported at start-up.
	CollectionFile string `yaml:"collection_file"`
}

// ReciteConfig holds the playback and check settings.
type ReciteConfig struct {
	GroupSize             int     `yaml:"group_size"`
	RepeatPerGroup        int     `yaml:"repeat_per_group"`
	SentenceDelimiters    string  `yaml:"sentence_delimiters"`
	FullReadBeforeGroups  int     `yaml:"full_read_before_groups"`
	FullReadAfterGroups   int     `yaml:"full_read_after_groups"`
	ReviewPrevAfterEach   bool    `yaml:"review_prev_after_each"`
	ReviewPrevRepeatCount int     `yaml:"review_prev_repeat_count"`
	Threshold             float64 `yaml:"threshold"`
	ReciteOnlyHighlights  bool    `yaml:"recite_only_highlights"`
	TTSEnabled            bool    `yaml:"tts_enabled"`
	AutoPlayNextQA        bool    `yaml:"auto_play_next_qa"`
	ForceReciteCheck      bool    `yaml:"force_recite_check"`

	// Scorer selects the similarity metric: "dice" (default) or
	// "jaro-winkler".
	Scorer similarity.Name `yaml:"scorer"`

	// SpeechRate scales the speech watchdog estimate.
	SpeechRate float64 `yaml:"speech_rate"`
}

// Default returns a Config populated with the settings of a fresh
// installation. The loader decodes over it, so omitted keys keep these
// values.
func Default() *Config {
	s := session.DefaultSettings()
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Recite: ReciteConfig{
			GroupSize:             s.Playback.GroupSize,
			RepeatPerGroup:        s.Playback.RepeatPerGroup,
			SentenceDelimiters:    s.Playback.SentenceDelimiters,
			FullReadBeforeGroups:  s.Playback.FullReadBeforeGroups,
			FullReadAfterGroups:   s.Playback.FullReadAfterGroups,
			ReviewPrevAfterEach:   s.Playback.ReviewPrevAfterEach,
			ReviewPrevRepeatCount: s.Playback.ReviewPrevRepeatCount,
			Threshold:             s.Threshold,
			ReciteOnlyHighlights:  s.ReciteOnlyHighlights,
			TTSEnabled:            s.Playback.TTSEnabled,
			AutoPlayNextQA:        s.Playback.AutoPlayNext,
			ForceReciteCheck:      s.Playback.ForceReciteCheck,
			Scorer:                s.Scorer,
			SpeechRate:            s.SpeechRate,
		},
	}
}

// Settings converts r into session settings. Numeric values are clamped to
// their documented ranges.
func (r ReciteConfig) Settings() session.Settings {
	return session.Settings{
		Playback: playback.Settings{
			GroupSize:             r.GroupSize,
			RepeatPerGroup:        r.RepeatPerGroup,
			SentenceDelimiters:    r.SentenceDelimiters,
			FullReadBeforeGroups:  r.FullReadBeforeGroups,
			FullReadAfterGroups:   r.FullReadAfterGroups,
			ReviewPrevAfterEach:   r.ReviewPrevAfterEach,
			ReviewPrevRepeatCount: r.ReviewPrevRepeatCount,
			TTSEnabled:            r.TTSEnabled,
			AutoPlayNext:          r.AutoPlayNextQA,
			ForceReciteCheck:      r.ForceReciteCheck,
		}.Clamped(),
		Threshold:            min(max(r.Threshold, 0), 1),
		ReciteOnlyHighlights: r.ReciteOnlyHighlights,
		Scorer:               r.Scorer,
		SpeechRate:           min(max(r.SpeechRate, MinSpeechRate), MaxSpeechRate),
	}
}

package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ReciteChanged lists the YAML keys under recite whose values differ.
	ReciteChanged []string

	// NeedsCheckReset is true when a changed key alters which segments are
	// matched or how they are scored.
	NeedsCheckReset bool

	// RestartRequired lists changed keys that are only read at start-up.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.ReciteChanged) > 0 || len(d.RestartRequired) > 0
}

// Keys returns every changed key in dotted form, server keys first.
func (d ConfigDiff) Keys() []string {
	var keys []string
	if d.LogLevelChanged {
		keys = append(keys, "server.log_level")
	}
	keys = append(keys, d.RestartRequired...)
	for _, k := range d.ReciteChanged {
		keys = append(keys, "recite."+k)
	}
	return keys
}

// checkResetKeys are the recite keys that change the matchable segments.
var checkResetKeys = map[string]bool{
	"recite_only_highlights": true,
	"sentence_delimiters":    true,
	"scorer":                 true,
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Store.PostgresDSN != new.Store.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "store.postgres_dsn")
	}
	if old.Store.CollectionFile != new.Store.CollectionFile {
		d.RestartRequired = append(d.RestartRequired, "store.collection_file")
	}

	o, n := old.Recite, new.Recite
	fields := []struct {
		key     string
		changed bool
	}{
		{"group_size", o.GroupSize != n.GroupSize},
		{"repeat_per_group", o.RepeatPerGroup != n.RepeatPerGroup},
		{"sentence_delimiters", o.SentenceDelimiters != n.SentenceDelimiters},
		{"full_read_before_groups", o.FullReadBeforeGroups != n.FullReadBeforeGroups},
		{"full_read_after_groups", o.FullReadAfterGroups != n.FullReadAfterGroups},
		{"review_prev_after_each", o.ReviewPrevAfterEach != n.ReviewPrevAfterEach},
		{"review_prev_repeat_count", o.ReviewPrevRepeatCount != n.ReviewPrevRepeatCount},
		{"threshold", o.Threshold != n.Threshold},
		{"recite_only_highlights", o.ReciteOnlyHighlights != n.ReciteOnlyHighlights},
		{"tts_enabled", o.TTSEnabled != n.TTSEnabled},
		{"auto_play_next_qa", o.AutoPlayNextQA != n.AutoPlayNextQA},
		{"force_recite_check", o.ForceReciteCheck != n.ForceReciteCheck},
		{"scorer", o.Scorer != n.Scorer},
		{"speech_rate", o.SpeechRate != n.SpeechRate},
	}
	for _, f := range fields {
		if !f.changed {
			continue
		}
		d.ReciteChanged = append(d.ReciteChanged, f.key)
		if checkResetKeys[f.key] {
			d.NeedsCheckReset = true
		}
	}
	return d
}

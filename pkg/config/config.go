package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Companion   CompanionConfig   `json:"companion"`
	Channels    ChannelsConfig    `json:"channels"`
	Provider    ProviderConfig    `json:"provider"`
	State       StateConfig       `json:"state"`
	Memory      MemoryConfig      `json:"memory"`
	Context     ContextConfig     `json:"context"`
	Compression CompressionConfig `json:"compression"`
	mu          sync.RWMutex
}

type CompanionConfig struct {
	Workspace   string  `json:"workspace" env:"KEEVA_COMPANION_WORKSPACE"`
	Model       string  `json:"model" env:"KEEVA_COMPANION_MODEL"`
	MaxTokens   int     `json:"max_tokens" env:"KEEVA_COMPANION_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"KEEVA_COMPANION_TEMPERATURE"`
	DebugTrace  bool    `json:"debug_trace" env:"KEEVA_COMPANION_DEBUG_TRACE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"KEEVA_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"KEEVA_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"KEEVA_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"KEEVA_PROVIDER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"KEEVA_PROVIDER_PROXY"`
}

// StateConfig controls the conversation-state store lifecycle.
type StateConfig struct {
	IdleEvictionMinutes       int    `json:"idle_eviction_minutes" env:"KEEVA_STATE_IDLE_EVICTION_MINUTES"`
	ActiveRunTTLMinutes       int    `json:"active_run_ttl_minutes" env:"KEEVA_STATE_ACTIVE_RUN_TTL_MINUTES"`
	PendingFollowupTTLMinutes int    `json:"pending_followup_ttl_minutes" env:"KEEVA_STATE_PENDING_FOLLOWUP_TTL_MINUTES"`
	SweepCron                 string `json:"sweep_cron" env:"KEEVA_STATE_SWEEP_CRON"`
}

// MemoryConfig holds core-memory list caps and background-operation triggers.
// The caps and thresholds are product tuning carried as configuration, not
// derived values.
type MemoryConfig struct {
	MaxUserFacts      int `json:"max_user_facts" env:"KEEVA_MEMORY_MAX_USER_FACTS"`
	MaxGoals          int `json:"max_goals" env:"KEEVA_MEMORY_MAX_GOALS"`
	MaxConstraints    int `json:"max_constraints" env:"KEEVA_MEMORY_MAX_CONSTRAINTS"`
	MaxCommitments    int `json:"max_commitments" env:"KEEVA_MEMORY_MAX_COMMITMENTS"`
	MaxThemes         int `json:"max_themes" env:"KEEVA_MEMORY_MAX_THEMES"`
	MaxPendingTopics  int `json:"max_pending_topics" env:"KEEVA_MEMORY_MAX_PENDING_TOPICS"`
	MaxEmotionEntries int `json:"max_emotion_entries" env:"KEEVA_MEMORY_MAX_EMOTION_ENTRIES"`
	MaxContradictions int `json:"max_contradictions" env:"KEEVA_MEMORY_MAX_CONTRADICTIONS"`

	ExtractEveryMessages int `json:"extract_every_messages" env:"KEEVA_MEMORY_EXTRACT_EVERY_MESSAGES"`
	ExtractMinMessages   int `json:"extract_min_messages" env:"KEEVA_MEMORY_EXTRACT_MIN_MESSAGES"`
	SummaryEveryMessages int `json:"summary_every_messages" env:"KEEVA_MEMORY_SUMMARY_EVERY_MESSAGES"`

	CacheTTLSeconds int `json:"cache_ttl_seconds" env:"KEEVA_MEMORY_CACHE_TTL_SECONDS"`
	CacheSize       int `json:"cache_size" env:"KEEVA_MEMORY_CACHE_SIZE"`
}

// ContextConfig controls the token-budgeted context assembler.
type ContextConfig struct {
	TokenBudget       int     `json:"token_budget" env:"KEEVA_CONTEXT_TOKEN_BUDGET"`
	CharsPerToken     float64 `json:"chars_per_token" env:"KEEVA_CONTEXT_CHARS_PER_TOKEN"`
	MinTruncateTokens int     `json:"min_truncate_tokens" env:"KEEVA_CONTEXT_MIN_TRUNCATE_TOKENS"`
	MessageCharLimit  int     `json:"message_char_limit" env:"KEEVA_CONTEXT_MESSAGE_CHAR_LIMIT"`
	UserMessageCount  int     `json:"user_message_count" env:"KEEVA_CONTEXT_USER_MESSAGE_COUNT"`
	// Per trim level (0, 1, 2).
	MessageLimits        []int `json:"message_limits" env:"KEEVA_CONTEXT_MESSAGE_LIMITS"`
	SummaryLimits        []int `json:"summary_limits" env:"KEEVA_CONTEXT_SUMMARY_LIMITS"`
	MaxCompressionBlocks int   `json:"max_compression_blocks" env:"KEEVA_CONTEXT_MAX_COMPRESSION_BLOCKS"`
	// Reduced per-list caps applied at trim level > 0.
	TrimFacts       int `json:"trim_facts" env:"KEEVA_CONTEXT_TRIM_FACTS"`
	TrimGoals       int `json:"trim_goals" env:"KEEVA_CONTEXT_TRIM_GOALS"`
	TrimThemes      int `json:"trim_themes" env:"KEEVA_CONTEXT_TRIM_THEMES"`
	TrimPending     int `json:"trim_pending" env:"KEEVA_CONTEXT_TRIM_PENDING"`
	TrimConstraints int `json:"trim_constraints" env:"KEEVA_CONTEXT_TRIM_CONSTRAINTS"`
	TrimEmotions    int `json:"trim_emotions" env:"KEEVA_CONTEXT_TRIM_EMOTIONS"`
	// History sizes at which the engine steps the trim level up.
	TrimLevel1After int `json:"trim_level_1_after" env:"KEEVA_CONTEXT_TRIM_LEVEL_1_AFTER"`
	TrimLevel2After int `json:"trim_level_2_after" env:"KEEVA_CONTEXT_TRIM_LEVEL_2_AFTER"`
}

// CompressionConfig controls rolling history compression.
type CompressionConfig struct {
	TriggerThreshold int `json:"trigger_threshold" env:"KEEVA_COMPRESSION_TRIGGER_THRESHOLD"`
	KeepRecent       int `json:"keep_recent" env:"KEEVA_COMPRESSION_KEEP_RECENT"`
	MinNewMessages   int `json:"min_new_messages" env:"KEEVA_COMPRESSION_MIN_NEW_MESSAGES"`
	MinSummaryChars  int `json:"min_summary_chars" env:"KEEVA_COMPRESSION_MIN_SUMMARY_CHARS"`
}

func DefaultConfig() *Config {
	return &Config{
		Companion: CompanionConfig{
			Workspace:   "~/.keeva/workspace",
			Model:       "openai/gpt-5.2",
			MaxTokens:   4096,
			Temperature: 0.7,
			DebugTrace:  false,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Provider: ProviderConfig{},
		State: StateConfig{
			IdleEvictionMinutes:       30,
			ActiveRunTTLMinutes:       12,
			PendingFollowupTTLMinutes: 10,
			SweepCron:                 "*/5 * * * *",
		},
		Memory: MemoryConfig{
			MaxUserFacts:         25,
			MaxGoals:             15,
			MaxConstraints:       10,
			MaxCommitments:       10,
			MaxThemes:            10,
			MaxPendingTopics:     8,
			MaxEmotionEntries:    5,
			MaxContradictions:    10,
			ExtractEveryMessages: 5,
			ExtractMinMessages:   3,
			SummaryEveryMessages: 25,
			CacheTTLSeconds:      60,
			CacheSize:            256,
		},
		Context: ContextConfig{
			TokenBudget:          2500,
			CharsPerToken:        3.5,
			MinTruncateTokens:    50,
			MessageCharLimit:     120,
			UserMessageCount:     5,
			MessageLimits:        []int{10, 8, 5},
			SummaryLimits:        []int{3, 3, 1},
			MaxCompressionBlocks: 2,
			TrimFacts:            10,
			TrimGoals:            5,
			TrimThemes:           5,
			TrimPending:          3,
			TrimConstraints:      5,
			TrimEmotions:         3,
			TrimLevel1After:      150,
			TrimLevel2After:      300,
		},
		Compression: CompressionConfig{
			TriggerThreshold: 40,
			KeepRecent:       20,
			MinNewMessages:   6,
			MinSummaryChars:  20,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Companion.Workspace)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Provider.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Provider.APIBase != "" {
		return c.Provider.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

// MessageLimitFor returns the recent-message window for a trim level.
func (c ContextConfig) MessageLimitFor(trimLevel int) int {
	return limitFor(c.MessageLimits, trimLevel, 10)
}

// SummaryLimitFor returns the prior-session summary count for a trim level.
func (c ContextConfig) SummaryLimitFor(trimLevel int) int {
	return limitFor(c.SummaryLimits, trimLevel, 3)
}

func limitFor(limits []int, trimLevel int, fallback int) int {
	if len(limits) == 0 {
		return fallback
	}
	if trimLevel < 0 {
		trimLevel = 0
	}
	if trimLevel >= len(limits) {
		trimLevel = len(limits) - 1
	}
	return limits[trimLevel]
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	// Realtime voice session (live doubt path)
	RealtimeURL      string
	RealtimeModel    string
	OpenAIAPIKey     string
	STUNServers      []string
	MaxRetries       int
	RetryBackoff     time.Duration
	ICEGatherTimeout time.Duration

	// Narration (pre-rendered path)
	TTSURL          string
	TTSVoice        string
	LLMURL          string
	LLMModel        string
	WordsPerMinute  int
	TimingChunkSize int
	TopicsPath      string

	// Audio relay (server-streamed audio instead of client-side fetch)
	RelayAudio        bool
	AllowPrivateAudio bool

	// Highlight scheduling
	TickInterval   time.Duration
	DebounceWindow time.Duration
	QuietPeriod    time.Duration

	// Narration cache
	RedisAddr string
	CacheTTL  time.Duration

	MaxSessions int
}

func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RealtimeURL:      getEnv("REALTIME_URL", "https://api.openai.com/v1/realtime"),
		RealtimeModel:    getEnv("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		STUNServers:      getEnvList("STUN_SERVERS", "stun:stun.l.google.com:19302"),
		MaxRetries:       getEnvInt("LIVE_MAX_RETRIES", 3),
		RetryBackoff:     getEnvMS("LIVE_RETRY_BACKOFF_MS", 2000),
		ICEGatherTimeout: getEnvMS("ICE_GATHER_TIMEOUT_MS", 5000),

		TTSURL:          getEnv("TTS_URL", "http://localhost:5002"),
		TTSVoice:        getEnv("TTS_VOICE", "alloy"),
		LLMURL:          getEnv("LLM_URL", "https://api.openai.com/v1"),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o"),
		WordsPerMinute:  getEnvInt("NARRATION_WPM", 150),
		TimingChunkSize: getEnvInt("TIMING_CHUNK_SIZE", 50),
		TopicsPath:      getEnv("TOPICS_PATH", ""),

		RelayAudio:        getEnvBool("RELAY_AUDIO", false),
		AllowPrivateAudio: getEnvBool("ALLOW_PRIVATE_AUDIO_URLS", false),

		TickInterval:   getEnvMS("HIGHLIGHT_TICK_MS", 10),
		DebounceWindow: getEnvMS("HIGHLIGHT_DEBOUNCE_MS", 50),
		QuietPeriod:    getEnvMS("HIGHLIGHT_QUIET_MS", 1000),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		CacheTTL:  getEnvMS("NARRATION_CACHE_TTL_MS", 24*60*60*1000),

		MaxSessions: getEnvInt("MAX_SESSIONS", 100),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMS(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

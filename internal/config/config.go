package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr   string
	DBPath string

	// Workers est le nombre d'exécuteurs concurrents par processus.
	Workers int

	// JobDelay est la durée totale simulée d'un calcul (minimum 100ms).
	JobDelay time.Duration

	// CacheTTL borne la durée de vie des résultats réutilisables.
	CacheTTL time.Duration

	// AITimeout borne l'appel externe du mode ai.
	AITimeout time.Duration

	GeminiAPIKey string
	GeminiModel  string
}

func Default() Config {
	return Config{
		Addr:         envOr("MS_ADDR", "127.0.0.1:8080"),
		DBPath:       envOr("MS_DB_PATH", "mathstream.db"),
		Workers:      envOrInt("MS_WORKERS", 4),
		JobDelay:     jobDelay(),
		CacheTTL:     time.Duration(envOrInt("MS_CACHE_TTL_SECONDS", 3600)) * time.Second,
		AITimeout:    time.Duration(envOrInt("MS_AI_TIMEOUT_SECONDS", 15)) * time.Second,
		GeminiAPIKey: os.Getenv("MS_GEMINI_API_KEY"),
		GeminiModel:  envOr("MS_GEMINI_MODEL", "gemini-1.5-flash"),
	}
}

func jobDelay() time.Duration {
	ms := envOrInt("MS_JOB_DELAY_MS", 3000)
	if ms < 100 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Package config loads the service's environment-variable configuration
// (spec.md §6), following the same getenv-with-default shape Vortex's
// cmd/server/main.go uses, plus best-effort .env loading via godotenv the
// way bogorad-screen-ocr-llm does for its own local-dev settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is every environment-derived setting the service needs.
type Config struct {
	Port string

	MaxFileSizeMB int64

	OCRTimeout   time.Duration
	ReadyTimeout time.Duration
	QueueMaxSize int
	WorkerCount  int

	WorkerBinPath string
	WorkerArgs    []string

	PrometheusAppName string
}

// Load reads the process environment (after a best-effort .env load) and
// applies the defaults from spec.md §6.
func Load() (Config, error) {
	// A missing .env file is normal in production; only surface read
	// errors for a file that exists but is malformed.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: failed to load .env, continuing with process environment")
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		MaxFileSizeMB:     getEnvInt64("MAX_FILE_SIZE_MB", 25),
		OCRTimeout:        getEnvMillis("OCR_TIMEOUT_MS", 60_000),
		ReadyTimeout:      getEnvMillis("WORKER_READY_TIMEOUT", 120_000),
		QueueMaxSize:      int(getEnvInt64("QUEUE_MAX_SIZE", 50)),
		WorkerCount:       int(getEnvInt64("WORKER_COUNT", int64(defaultWorkerCount()))),
		WorkerBinPath:     resolveWorkerBinPath(),
		PrometheusAppName: getEnv("PROMETHEUS_APP_NAME", ""),
	}

	if workerArgs := os.Getenv("WORKER_ARGS"); workerArgs != "" {
		cfg.WorkerArgs = splitArgs(workerArgs)
	}

	if cfg.WorkerCount <= 0 {
		return Config{}, fmt.Errorf("config: WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.WorkerBinPath == "" {
		return Config{}, fmt.Errorf("config: OCR_WORKER_BIN not set and no ocr-worker binary found alongside the service")
	}

	return cfg, nil
}

// defaultWorkerCount mirrors spec.md §6: min(CPU count, 4).
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	return n
}

// resolveWorkerBinPath resolves the OCR child binary's location: an
// explicit OCR_WORKER_BIN env var first, falling back to a binary named
// ocr-worker next to the service executable — the Open Question this
// expansion introduces, resolved the way Vortex's getRuntimePath resolves
// VORTEX_RUNTIME_PATH (see SPEC_FULL.md §9).
func resolveWorkerBinPath() string {
	if path := os.Getenv("OCR_WORKER_BIN"); path != "" {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(exe), "ocr-worker")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid integer, using default")
		return def
	}
	return n
}

func getEnvMillis(key string, defMillis int64) time.Duration {
	return time.Duration(getEnvInt64(key, defMillis)) * time.Millisecond
}

func splitArgs(s string) []string {
	var out []string
	var cur []rune
	for _, r := range s {
		if r == ' ' {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// Package config handles service configuration
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/ocr"
)

// DefaultWhitelist is the character set recognized when none is configured.
const DefaultWhitelist = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890!@#$%^&*()-_=+[]?<>.,`\"/;"

// Frame sources
const (
	FrameSourcePush    = "push" // POST /api/frame only
	FrameSourceDir     = "dir"
	FrameSourceCommand = "command"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel slog.Level

	Languages      []string
	TessdataPrefix string
	PageSegMode    ocr.PageSegMode
	Accuracy       ocr.AccuracyMode
	Blacklist      string
	Whitelist      string

	MinMeanConfidence    int // 0 disables the gate
	WordRenderConfidence int
	Continuous           bool

	FrameSource       string // push, dir or command
	FrameDir          string
	FrameCommand      []string
	FrameRate         float64 // Hz
	SkipSimilarFrames bool
	MaxHashDistance   int

	ViewportWidth  int
	ViewportHeight int
	PreviewWidth   int
	PreviewHeight  int

	RedisURL     string
	RedisChannel string
	HistorySize  int
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "read .env")
	}

	psm, err := ocr.ParsePageSegMode(getEnv("PAGE_SEGMENTATION_MODE", ocr.PSMAuto.String()))
	if err != nil {
		return nil, err
	}
	accuracy, err := ocr.ParseAccuracyMode(getEnv("ACCURACY_VS_SPEED_MODE", ocr.MostAccurate.String()))
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(getEnv("LOG_LEVEL", "debug"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:             getEnv("GRPC_ADDR", ":50051"),
		LogLevel:             level,
		Languages:            getEnvList("OCR_LANGUAGES", []string{"eng"}),
		TessdataPrefix:       os.Getenv("TESSDATA_PREFIX"),
		PageSegMode:          psm,
		Accuracy:             accuracy,
		Blacklist:            os.Getenv("CHARACTER_BLACKLIST"),
		Whitelist:            getEnv("CHARACTER_WHITELIST", DefaultWhitelist),
		MinMeanConfidence:    getEnvInt("MINIMUM_MEAN_CONFIDENCE", 0),
		WordRenderConfidence: getEnvInt("WORD_RENDER_CONFIDENCE", 35),
		Continuous:           getEnvBool("CONTINUOUS_MODE", true),
		FrameSource:          getEnv("FRAME_SOURCE", defaultFrameSource()),
		FrameDir:             os.Getenv("FRAME_DIR"),
		FrameCommand:         strings.Fields(os.Getenv("FRAME_COMMAND")),
		FrameRate:            getEnvFloat("FRAME_RATE", 2.0),
		SkipSimilarFrames:    getEnvBool("SKIP_SIMILAR_FRAMES", false),
		MaxHashDistance:      getEnvInt("MAX_HASH_DISTANCE", 5),
		ViewportWidth:        getEnvInt("VIEWPORT_WIDTH", 1280),
		ViewportHeight:       getEnvInt("VIEWPORT_HEIGHT", 720),
		PreviewWidth:         getEnvInt("PREVIEW_WIDTH", 1280),
		PreviewHeight:        getEnvInt("PREVIEW_HEIGHT", 720),
		RedisURL:             os.Getenv("REDIS_URL"),
		RedisChannel:         getEnv("REDIS_CHANNEL", "reverser:results"),
		HistorySize:          getEnvInt("HISTORY_SIZE", 30),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges once so nothing downstream re-parses settings.
func (c *Config) Validate() error {
	switch {
	case len(c.Languages) == 0:
		return invalid("OCR_LANGUAGES", "at least one language is required")
	case c.MinMeanConfidence < 0 || c.MinMeanConfidence > 100:
		return invalid("MINIMUM_MEAN_CONFIDENCE", "must be within 0..100")
	case c.WordRenderConfidence < 0 || c.WordRenderConfidence > 100:
		return invalid("WORD_RENDER_CONFIDENCE", "must be within 0..100")
	case c.FrameSource != FrameSourcePush && c.FrameSource != FrameSourceDir && c.FrameSource != FrameSourceCommand:
		return invalid("FRAME_SOURCE", "must be push, dir or command")
	case c.FrameSource == FrameSourceDir && c.FrameDir == "":
		return invalid("FRAME_DIR", "required for the dir frame source")
	case c.FrameRate <= 0:
		return invalid("FRAME_RATE", "must be positive")
	case c.MaxHashDistance < 0:
		return invalid("MAX_HASH_DISTANCE", "must not be negative")
	case c.ViewportWidth <= 0 || c.ViewportHeight <= 0:
		return invalid("VIEWPORT_WIDTH", "viewport dimensions must be positive")
	case c.PreviewWidth <= 0 || c.PreviewHeight <= 0:
		return invalid("PREVIEW_WIDTH", "preview dimensions must be positive")
	case c.HistorySize <= 0:
		return invalid("HISTORY_SIZE", "must be positive")
	}
	return nil
}

// Params returns the engine parameters carried by the config.
func (c *Config) Params() ocr.Params {
	return ocr.Params{
		PageSegMode: c.PageSegMode,
		Accuracy:    c.Accuracy,
		Blacklist:   c.Blacklist,
		Whitelist:   c.Whitelist,
	}
}

// FRAME_DIR alone selects replay.
func defaultFrameSource() string {
	if os.Getenv("FRAME_DIR") != "" {
		return FrameSourceDir
	}
	return FrameSourcePush
}

func invalid(key, msg string) error {
	return apperrors.Newf(apperrors.CodeInvalidConfig, "%s: %s", key, msg).WithMetadata("key", key)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, apperrors.Wrapf(err, apperrors.CodeInvalidConfig, "LOG_LEVEL: unknown level %q", s)
	}
	return level, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' })
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

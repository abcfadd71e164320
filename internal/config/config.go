package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Detection DetectionConfig
	Matching  MatchingConfig
	Extractor ExtractorConfig
	Database  DatabaseConfig
	SIS       SISConfig
	Reconcile ReconcileConfig
	Allocator AllocatorConfig
	Marking   MarkingConfig
	Web       WebConfig
}

// WebConfig holds the HTTP surface settings. AllowedOrigins lists the kiosk
// and dashboard origins permitted to call the API from a browser; localhost
// is always permitted regardless.
type WebConfig struct {
	AllowedOrigins []string
}

// DetectionConfig holds the quality-gate thresholds applied to a detected
// face before it is eligible for matching or enrollment.
type DetectionConfig struct {
	MinConfidence          float64 `yaml:"min_confidence"`           // detector confidence floor for matching
	RegistrationConfidence float64 `yaml:"registration_confidence"`  // stricter floor for enrollment captures
	MinFaceSizePx          int     `yaml:"min_face_size_px"`         // minimum bbox width/height in pixels
	MinFaceAreaPercent     float64 `yaml:"min_face_area_percent"`    // face area as % of frame, lower bound
	MaxFaceAreaPercent     float64 `yaml:"max_face_area_percent"`    // face area as % of frame, upper bound
	MaxCenterOffset        float64 `yaml:"max_center_offset"`        // normalized center offset bound
	MaxDecodeDim           int     `yaml:"max_decode_dim"`           // frames larger than this are downscaled first
}

// MatchingConfig holds the similarity thresholds. Only MatchThreshold may
// gate a persisted attendance decision; LiveThreshold is provisional UI
// feedback and the quality cutoffs are display-only.
type MatchingConfig struct {
	MatchThreshold     float64 `yaml:"match_threshold"`
	LiveThreshold      float64 `yaml:"live_threshold"`
	ExcellentThreshold float64 `yaml:"excellent_threshold"`
	GoodThreshold      float64 `yaml:"good_threshold"`
	MinEmbeddingNorm   float64 `yaml:"min_embedding_norm"`
}

type ExtractorConfig struct {
	URL     string        // detection/embedding service, empty means degraded mode
	Dim     int           // expected embedding dimensionality (default 512)
	Timeout time.Duration // per-request timeout
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// SISConfig points at the institution's student-information system, a
// read-only MariaDB database that owns rosters and scheduled sessions.
type SISConfig struct {
	DatabaseURL string // MariaDB DSN, e.g. sis:sis@tcp(sis-db:3306)/sis
}

type ReconcileConfig struct {
	Interval    time.Duration // sleep between scheduler cycles
	ActiveStart string        // "HH:MM", cycles outside the window are skipped
	ActiveEnd   string        // "HH:MM"
}

type AllocatorConfig struct {
	MaxRetries  int           // bounded retries for sequence allocation
	BaseBackoff time.Duration // first retry delay, doubled per attempt
}

// MarkingConfig controls how a positive face match translates into a status.
type MarkingConfig struct {
	LateGrace time.Duration // check-ins later than session start + grace are "late"
}

type thresholdsFile struct {
	Detection DetectionConfig `yaml:"detection"`
	Matching  MatchingConfig  `yaml:"matching"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float64, keeping the default
// on unset or unparsable values.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a time.Duration ("90s", "5m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envString reads an environment variable with a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults thresholdsFile
	if err := yaml.Unmarshal(thresholdsYAML, &defaults); err != nil {
		// Embedded file, so this can only be a build-time mistake.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	det := defaults.Detection
	det.MinConfidence = envFloat("DETECTION_MIN_CONFIDENCE", det.MinConfidence)
	det.RegistrationConfidence = envFloat("REGISTRATION_MIN_CONFIDENCE", det.RegistrationConfidence)
	det.MinFaceSizePx = envInt("MIN_FACE_SIZE_PX", det.MinFaceSizePx)
	det.MinFaceAreaPercent = envFloat("MIN_FACE_AREA_PERCENT", det.MinFaceAreaPercent)
	det.MaxFaceAreaPercent = envFloat("MAX_FACE_AREA_PERCENT", det.MaxFaceAreaPercent)
	det.MaxCenterOffset = envFloat("MAX_CENTER_OFFSET", det.MaxCenterOffset)
	det.MaxDecodeDim = envInt("MAX_DECODE_DIM", det.MaxDecodeDim)

	match := defaults.Matching
	match.MatchThreshold = envFloat("MATCH_THRESHOLD", match.MatchThreshold)
	match.LiveThreshold = envFloat("LIVE_THRESHOLD", match.LiveThreshold)
	match.ExcellentThreshold = envFloat("EXCELLENT_THRESHOLD", match.ExcellentThreshold)
	match.GoodThreshold = envFloat("GOOD_THRESHOLD", match.GoodThreshold)
	match.MinEmbeddingNorm = envFloat("MIN_EMBEDDING_NORM", match.MinEmbeddingNorm)

	return &Config{
		Detection: det,
		Matching:  match,
		Extractor: ExtractorConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			Dim:     envInt("EMBEDDING_DIM", 512),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		SIS: SISConfig{
			DatabaseURL: os.Getenv("SIS_DATABASE_URL"),
		},
		Reconcile: ReconcileConfig{
			Interval:    envDuration("RECONCILE_INTERVAL", 15*time.Minute),
			ActiveStart: envString("ACTIVE_HOURS_START", "07:00"),
			ActiveEnd:   envString("ACTIVE_HOURS_END", "19:00"),
		},
		Allocator: AllocatorConfig{
			MaxRetries:  envInt("ALLOC_MAX_RETRIES", 5),
			BaseBackoff: envDuration("ALLOC_BASE_BACKOFF", 50*time.Millisecond),
		},
		Marking: MarkingConfig{
			LateGrace: envDuration("LATE_GRACE", 10*time.Minute),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

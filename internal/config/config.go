package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Gallery  GalleryConfig
	Index    IndexConfig
	Match    MatchConfig
	Liveness LivenessConfig
	Detector DetectorConfig
	Database DatabaseConfig
	Builder  BuilderConfig
	Web      WebConfig
	Log      LogConfig
}

type GalleryConfig struct {
	Dir       string // gallery directory holding the CURRENT manifest (default ./data/gallery)
	Dim       int    // embedding dimension (default 512)
	Normalize bool   // store unit-length embeddings
	// PersistOnEnroll writes a new generation after every successful enroll (default true)
	PersistOnEnroll bool
}

type IndexConfig struct {
	Kind         string // exact, hnsw or ivf (default exact)
	Metric       string // cosine or l2 (default cosine)
	HNSWM        int
	HNSWEfSearch int
	IVFLists     int
	IVFProbes    int
	CachePath    string // Path to persist the HNSW graph (optional, if empty the index is rebuilt on startup)
}

type MatchConfig struct {
	DefaultTopK   int     // default 5
	MinConfidence float64 // optional floor, 0 disables
}

type LivenessConfig struct {
	EARThreshold float64 // default 0.21
	Layout       string  // insightface106 or contour12
	MinLandmarks int     // default 96, raised to what the layout reads
}

type DetectorConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // default 30s
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type BuilderConfig struct {
	Concurrency    int     // parallel detection requests (default 4)
	Rate           float64 // detection requests per second, 0 disables the limit
	IdentitiesFile string  // YAML file mapping person folder to info
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string      // CORS origins besides localhost
	MaxUploadBytes int64         // default 20 MiB
	RequestTimeout time.Duration // default 60s, bounds the detector call
	APIKey         string        // bearer token for write routes, empty disables
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json or pretty
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

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

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

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Gallery: GalleryConfig{
			Dir:             envString("GALLERY_DIR", "./data/gallery"),
			Dim:             envInt("EMBEDDING_DIM", 512),
			Normalize:       envBool("NORMALIZE_EMBEDDINGS", false),
			PersistOnEnroll: envBool("GALLERY_PERSIST_ON_ENROLL", true),
		},
		Index: IndexConfig{
			Kind:         envString("INDEX_KIND", "exact"),
			Metric:       envString("INDEX_METRIC", "cosine"),
			HNSWM:        envInt("INDEX_HNSW_M", 16),
			HNSWEfSearch: envInt("INDEX_HNSW_EF_SEARCH", 100),
			IVFLists:     envInt("INDEX_IVF_LISTS", 64),
			IVFProbes:    envInt("INDEX_IVF_PROBES", 8),
			CachePath:    os.Getenv("INDEX_CACHE_PATH"),
		},
		Match: MatchConfig{
			DefaultTopK:   envInt("MATCH_DEFAULT_TOP_K", 5),
			MinConfidence: envFloat("MATCH_MIN_CONFIDENCE", 0),
		},
		Liveness: LivenessConfig{
			EARThreshold: envFloat("LIVENESS_EAR_THRESHOLD", 0.21),
			Layout:       envString("LIVENESS_LAYOUT", "insightface106"),
			MinLandmarks: envInt("LIVENESS_MIN_LANDMARKS", 96),
		},
		Detector: DetectorConfig{
			URL:     envString("DETECTOR_URL", "http://localhost:8000"),
			Timeout: envDuration("DETECTOR_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Builder: BuilderConfig{
			Concurrency:    envInt("BUILDER_CONCURRENCY", 4),
			Rate:           envFloat("BUILDER_RATE", 0),
			IdentitiesFile: os.Getenv("IDENTITIES_FILE"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			MaxUploadBytes: int64(envInt("WEB_MAX_UPLOAD_BYTES", 20<<20)),
			RequestTimeout: envDuration("WEB_REQUEST_TIMEOUT", 60*time.Second),
			APIKey:         os.Getenv("WEB_API_KEY"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}

// Package config handles greeter configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	Detection DetectionConfig
	Greeting  GreetingConfig
	Speech    SpeechConfig
	Store     StoreConfig
}

type DetectionConfig struct {
	Transport    string // "http" or "grpc"
	URL          string
	GRPCAddr     string
	StreamURL    string // empty means the ambient webcam
	Timeout      time.Duration
	FastInterval time.Duration
	SlowInterval time.Duration
}

type GreetingConfig struct {
	Venue             string
	Phrases           []string // nil keeps the built-in list
	SightingRetention time.Duration
	SightingProximity float64 // percent of frame
}

type SpeechConfig struct {
	Engine     string // "espeak" or "log"
	EspeakPath string
	Locale     string
	Providers  []string
}

type StoreConfig struct {
	DataDir      string
	VisitLogging bool
}

// fileOverlay is the optional YAML file named by GREETER_CONFIG.
type fileOverlay struct {
	Venue          string   `yaml:"venue"`
	Phrases        []string `yaml:"phrases"`
	VoiceProviders []string `yaml:"voiceProviders"`
}

// Load reads .env (if present), then the environment, then the YAML overlay.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Detection: DetectionConfig{
			Transport:    getEnv("DETECTION_TRANSPORT", "http"),
			URL:          getEnv("DETECTION_URL", "http://localhost:5000"),
			GRPCAddr:     getEnv("DETECTION_GRPC_ADDR", "localhost:50051"),
			StreamURL:    getEnv("CAMERA_STREAM_URL", ""),
			Timeout:      getEnvDuration("DETECTION_TIMEOUT", 5*time.Second),
			FastInterval: getEnvDuration("POLL_FAST_INTERVAL", 500*time.Millisecond),
			SlowInterval: getEnvDuration("POLL_SLOW_INTERVAL", time.Second),
		},
		Greeting: GreetingConfig{
			Venue:             getEnv("VENUE_NAME", "AstroNova"),
			SightingRetention: getEnvDuration("SIGHTING_RETENTION", 10*time.Minute),
			SightingProximity: getEnvFloat("SIGHTING_PROXIMITY", 2.0),
		},
		Speech: SpeechConfig{
			Engine:     getEnv("SPEECH_ENGINE", "espeak"),
			EspeakPath: getEnv("ESPEAK_PATH", "espeak-ng"),
			Locale:     getEnv("VOICE_LOCALE", "en-US"),
			Providers:  getEnvList("VOICE_PROVIDERS", []string{"google", "microsoft", "samantha"}),
		},
		Store: StoreConfig{
			DataDir:      getEnv("DATA_DIR", "./data"),
			VisitLogging: getEnvBool("VISIT_LOGGING", true),
		},
	}

	if path := os.Getenv("GREETER_CONFIG"); path != "" {
		_ = cfg.applyFile(path)
	}
	return cfg
}

// applyFile merges a YAML overlay; environment values for the venue win.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fileOverlay
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Venue != "" && os.Getenv("VENUE_NAME") == "" {
		c.Greeting.Venue = f.Venue
	}
	if len(f.Phrases) > 0 {
		c.Greeting.Phrases = f.Phrases
	}
	if len(f.VoiceProviders) > 0 && os.Getenv("VOICE_PROVIDERS") == "" {
		c.Speech.Providers = f.VoiceProviders
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
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

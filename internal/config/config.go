package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Recommender RecommenderConfig
	Import      ImportConfig
}

type ServerConfig struct {
	Port       int `validate:"gte=1,lte=65535"`
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type RecommenderConfig struct {
	Neighbors         int    `validate:"gte=1"`
	TopN              int    `validate:"gte=1"`
	MinPopularRatings int    `validate:"gte=1"`
	SimilarN          int    `validate:"gte=1"`
	MaxFeatures       int    `validate:"gte=1"`
	RebuildInterval   string `validate:"required"`
}

type ImportConfig struct {
	MinRatingsPerUser    int `validate:"gte=0"`
	MinRatingsPerProduct int `validate:"gte=0"`
	MaxUsers             int `validate:"gte=0"`
	MaxProducts          int `validate:"gte=0"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Recommender: RecommenderConfig{
			Neighbors:         10,
			TopN:              5,
			MinPopularRatings: 5,
			SimilarN:          5,
			MaxFeatures:       5000,
			RebuildInterval:   "30s",
		},
		Import: ImportConfig{
			MinRatingsPerUser:    5,
			MinRatingsPerProduct: 5,
			MaxUsers:             1000,
			MaxProducts:          1000,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/prodrec/config.json, then applies environment variable
// overrides (PRODREC_*), then validates the result.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and that the rebuild interval parses.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.ParseDuration(c.Recommender.RebuildInterval); err != nil {
		return fmt.Errorf("invalid config: recommender.rebuild_interval: %w", err)
	}
	return nil
}

// RebuildEvery returns the periodic snapshot refresh interval. A value that
// does not parse disables the refresh.
func (c Config) RebuildEvery() time.Duration {
	d, err := time.ParseDuration(c.Recommender.RebuildInterval)
	if err != nil {
		return 0
	}
	return d
}

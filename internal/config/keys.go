package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PRODREC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "PRODREC_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PRODREC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PRODREC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "recommender.neighbors", typ: kInt, env: "PRODREC_RECOMMENDER_NEIGHBORS",
		apply:   func(cfg *Config, v any) { cfg.Recommender.Neighbors = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommender.Neighbors },
	},
	{
		key: "recommender.top_n", typ: kInt, env: "PRODREC_RECOMMENDER_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Recommender.TopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommender.TopN },
	},
	{
		key: "recommender.min_popular_ratings", typ: kInt, env: "PRODREC_RECOMMENDER_MIN_POPULAR_RATINGS",
		apply:   func(cfg *Config, v any) { cfg.Recommender.MinPopularRatings = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommender.MinPopularRatings },
	},
	{
		key: "recommender.similar_n", typ: kInt, env: "PRODREC_RECOMMENDER_SIMILAR_N",
		apply:   func(cfg *Config, v any) { cfg.Recommender.SimilarN = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommender.SimilarN },
	},
	{
		key: "recommender.max_features", typ: kInt, env: "PRODREC_RECOMMENDER_MAX_FEATURES",
		apply:   func(cfg *Config, v any) { cfg.Recommender.MaxFeatures = v.(int) },
		extract: func(cfg Config) any { return cfg.Recommender.MaxFeatures },
	},
	{
		key: "recommender.rebuild_interval", typ: kString, env: "PRODREC_RECOMMENDER_REBUILD_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Recommender.RebuildInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Recommender.RebuildInterval },
	},
	{
		key: "import.min_ratings_per_user", typ: kInt, env: "PRODREC_IMPORT_MIN_RATINGS_PER_USER",
		apply:   func(cfg *Config, v any) { cfg.Import.MinRatingsPerUser = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.MinRatingsPerUser },
	},
	{
		key: "import.min_ratings_per_product", typ: kInt, env: "PRODREC_IMPORT_MIN_RATINGS_PER_PRODUCT",
		apply:   func(cfg *Config, v any) { cfg.Import.MinRatingsPerProduct = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.MinRatingsPerProduct },
	},
	{
		key: "import.max_users", typ: kInt, env: "PRODREC_IMPORT_MAX_USERS",
		apply:   func(cfg *Config, v any) { cfg.Import.MaxUsers = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.MaxUsers },
	},
	{
		key: "import.max_products", typ: kInt, env: "PRODREC_IMPORT_MAX_PRODUCTS",
		apply:   func(cfg *Config, v any) { cfg.Import.MaxProducts = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.MaxProducts },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

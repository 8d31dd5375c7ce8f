package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "consilium.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONSILIUM_PORT")
	setString(&cfg.Server.CORSOrigin, "CONSILIUM_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONSILIUM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONSILIUM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONSILIUM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONSILIUM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONSILIUM_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.Logging.Level, "CONSILIUM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONSILIUM_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONSILIUM_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CONSILIUM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONSILIUM_BREAKER_TIMEOUT")

	// Directory cache
	setDuration(&cfg.Directory.TTL, "CONSILIUM_DIRECTORY_TTL")
	setInt64(&cfg.Directory.L1MaxSizeMB, "CONSILIUM_DIRECTORY_L1_SIZE_MB")

	// Selector
	setInt(&cfg.Selector.MaxAgents, "CONSILIUM_SELECTOR_MAX_AGENTS")
	setFloat64(&cfg.Selector.DomainWeight, "CONSILIUM_SELECTOR_DOMAIN_WEIGHT")
	setFloat64(&cfg.Selector.TagOverlapWeight, "CONSILIUM_SELECTOR_TAG_WEIGHT")
	setFloat64(&cfg.Selector.TierWeight, "CONSILIUM_SELECTOR_TIER_WEIGHT")
	setFloat64(&cfg.Selector.PopularityWeight, "CONSILIUM_SELECTOR_POPULARITY_WEIGHT")
	setFloat64(&cfg.Selector.AvailabilityWeight, "CONSILIUM_SELECTOR_AVAILABILITY_WEIGHT")
	setBool(&cfg.Selector.ContinuityEnabled, "CONSILIUM_SELECTOR_CONTINUITY")
	setInt(&cfg.Selector.ContinuityMinTurns, "CONSILIUM_SELECTOR_CONTINUITY_MIN_TURNS")
	setFloat64(&cfg.Selector.ContinuityConfidence, "CONSILIUM_SELECTOR_CONTINUITY_CONFIDENCE")

	// Retrieval
	setDuration(&cfg.Retrieval.Timeout, "CONSILIUM_RETRIEVAL_TIMEOUT")
	setInt(&cfg.Retrieval.TopK, "CONSILIUM_RETRIEVAL_TOP_K")
	setFloat64(&cfg.Retrieval.SimilarityFloor, "CONSILIUM_RETRIEVAL_SIMILARITY_FLOOR")

	// Executor
	setDuration(&cfg.Executor.AgentTimeout, "CONSILIUM_EXECUTOR_AGENT_TIMEOUT")

	// Synthesis
	setString(&cfg.Synthesis.Model, "CONSILIUM_SYNTHESIS_MODEL")
	setDuration(&cfg.Synthesis.Timeout, "CONSILIUM_SYNTHESIS_TIMEOUT")
	setFloat64(&cfg.Synthesis.LowConsensusThreshold, "CONSILIUM_SYNTHESIS_LOW_CONSENSUS")

	// Mission
	setFloat64(&cfg.Mission.DefaultBudgetUSD, "CONSILIUM_MISSION_DEFAULT_BUDGET_USD")
	setString(&cfg.Mission.PlannerModel, "CONSILIUM_MISSION_PLANNER_MODEL")
	setInt(&cfg.Mission.PlannerMaxTokens, "CONSILIUM_MISSION_PLANNER_MAX_TOKENS")
	setInt(&cfg.Mission.MaxSteps, "CONSILIUM_MISSION_MAX_STEPS")
	setDuration(&cfg.Mission.CheckpointTTL, "CONSILIUM_MISSION_CHECKPOINT_TTL")
	setDuration(&cfg.Mission.JanitorInterval, "CONSILIUM_MISSION_JANITOR_INTERVAL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Selector.MaxAgents < 1 {
		return errors.New("selector.max_agents must be >= 1")
	}
	if cfg.Mission.MaxSteps < 1 {
		return errors.New("mission.max_steps must be >= 1")
	}
	if cfg.Mission.DefaultBudgetUSD <= 0 {
		return errors.New("mission.default_budget_usd must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

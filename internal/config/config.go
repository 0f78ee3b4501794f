package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/kalambet/threadattrs/internal/ratelimit"
	"github.com/kalambet/threadattrs/internal/storage"
)

// Prefix is prepended to every environment variable name.
const Prefix = "THREADATTRS"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

type Config struct {
	Log       LogConfig       `envconfig:"LOG"`
	Store     StoreConfig     `envconfig:"STORE"`
	DynamoDB  DynamoDBConfig  `envconfig:"DYNAMODB"`
	LLM       LLMConfig       `envconfig:"LLM"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Threads   ThreadsConfig   `envconfig:"THREADS"`
	Server    ServerConfig    `envconfig:"SERVER"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

type StoreConfig struct {
	Driver      string `envconfig:"DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"threadattrs.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
}

type DynamoDBConfig struct {
	Region             string `envconfig:"REGION"`
	Endpoint           string `envconfig:"ENDPOINT"`
	TableConversations string `envconfig:"TABLE_CONVERSATIONS" default:"Conversations"`
	TableThreads       string `envconfig:"TABLE_THREADS" default:"Threads"`
	TableInvocations   string `envconfig:"TABLE_INVOCATIONS" default:"Invocations"`
	TableUsers         string `envconfig:"TABLE_USERS" default:"Users"`
	TableRateLimitAWS  string `envconfig:"TABLE_RATE_LIMIT_AWS" default:"RateLimitAWS"`
	TableRateLimitAI   string `envconfig:"TABLE_RATE_LIMIT_AI" default:"RateLimitAI"`
}

type LLMConfig struct {
	APIKey      string        `envconfig:"API_KEY"`
	BaseURL     string        `envconfig:"BASE_URL" default:"https://api.together.xyz/v1"`
	Model       string        `envconfig:"MODEL" default:"meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"`
	Temperature float64       `envconfig:"TEMPERATURE" default:"0.1"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"500"`
	Stop        []string      `envconfig:"STOP" default:"<|im_end|>,<|endoftext|>"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
	Prompt      string        `envconfig:"PROMPT" default:"thread_attributes"`
	PromptFile  string        `envconfig:"PROMPT_FILE"`
	RejectEmpty bool          `envconfig:"REJECT_EMPTY" default:"false"`
}

type RateLimitConfig struct {
	Enforce         bool          `envconfig:"ENFORCE" default:"true"`
	Window          time.Duration `envconfig:"WINDOW" default:"60s"`
	OnLookupFailure string        `envconfig:"ON_LOOKUP_FAILURE" default:"deny"`
	OnCheckFailure  string        `envconfig:"ON_CHECK_FAILURE" default:"allow"`

	lookupPolicy ratelimit.LookupFailurePolicy
	checkPolicy  ratelimit.CheckFailurePolicy
}

type ThreadsConfig struct {
	PersistAttributes bool `envconfig:"PERSIST_ATTRIBUTES" default:"false"`
}

type ServerConfig struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	MaxConns     int           `envconfig:"MAX_CONNS" default:"256"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"45s"`
}

// Load reads configuration from THREADATTRS_* environment variables and
// validates it. The model API key is not required here; see RequireLLM.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Validate normalizes enum values and checks cross-field requirements.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("missing required config: %s_STORE_SQLITE_PATH", Prefix)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("missing required config: %s_STORE_POSTGRES_DSN for driver postgres", Prefix)
		}
	case DriverDynamoDB:
	default:
		return fmt.Errorf("unsupported store driver %q (want sqlite, postgres or dynamodb)", c.Store.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
		c.Log.Format = strings.ToLower(c.Log.Format)
	default:
		return fmt.Errorf("unsupported log format %q (want json or console)", c.Log.Format)
	}

	var err error
	if c.RateLimit.lookupPolicy, err = ratelimit.ParseLookupFailurePolicy(c.RateLimit.OnLookupFailure); err != nil {
		return err
	}
	if c.RateLimit.checkPolicy, err = ratelimit.ParseCheckFailurePolicy(c.RateLimit.OnCheckFailure); err != nil {
		return err
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("model timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("model max tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Server.MaxConns <= 0 {
		return fmt.Errorf("server max conns must be positive, got %d", c.Server.MaxConns)
	}
	return nil
}

// RequireLLM reports a configuration error when no model API key is set.
func (c Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("missing required config: model API key. Set it via environment variable %s_LLM_API_KEY", Prefix)
	}
	return nil
}

// LookupPolicy returns the parsed lookup failure policy.
func (r RateLimitConfig) LookupPolicy() ratelimit.LookupFailurePolicy { return r.lookupPolicy }

// CheckPolicy returns the parsed check failure policy.
func (r RateLimitConfig) CheckPolicy() ratelimit.CheckFailurePolicy { return r.checkPolicy }

// Tables maps the configured table names onto the store's table set.
func (d DynamoDBConfig) Tables() storage.DynamoTables {
	return storage.DynamoTables{
		Conversations: d.TableConversations,
		Threads:       d.TableThreads,
		Invocations:   d.TableInvocations,
		Users:         d.TableUsers,
		Counters: map[storage.Category]string{
			storage.CategoryAWS: d.TableRateLimitAWS,
			storage.CategoryAI:  d.TableRateLimitAI,
		},
	}
}

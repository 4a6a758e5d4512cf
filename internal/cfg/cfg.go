package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MinJWTSecret is the shortest accepted signing secret, in bytes.
const MinJWTSecret = 32

// Config adds triagedesk fields to the common cfg.Registerable and
// cfg.Validatable interfaces
type Config struct {
	EnvFile string

	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	MaxUploadBytes        int64

	DatabaseURL      string
	DBSlowQueryMS    int
	DBMaxConnections int

	JWTSecret string

	// AuthorityURL points surfaces at a remote decision API. Empty confirms
	// in process.
	AuthorityURL          string
	ConfirmTimeoutSeconds int

	LayoutIterations int
	LayoutEpsilon    float64

	GraphURI      string
	GraphDatabase string
	GraphUsername string
	GraphPassword string
	GraphBatch    string
	GraphSurface  string

	ClaudeAPIKey    string
	ClaudeModel     string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file loaded before reading TRIAGEDESK_ variables (missing file is ignored)")

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 10<<20, "largest accepted batch upload in bytes (1KiB..256MiB)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for decisions (empty = in-memory store)")
	fs.IntVar(&c.DBSlowQueryMS, "db-slow-query-ms", 250, "log successful queries slower than this many milliseconds")
	fs.IntVar(&c.DBMaxConnections, "db-max-connections", 0, "pool size (0 = pgx default)")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for reviewer tokens (at least 32 bytes)")

	fs.StringVar(&c.AuthorityURL, "authority-url", "", "base URL of a remote decision API (empty = confirm in process)")
	fs.IntVar(&c.ConfirmTimeoutSeconds, "confirm-timeout-seconds", 10, "timeout for one confirmation round trip (1..120)")

	fs.IntVar(&c.LayoutIterations, "layout-iterations", 300, "force layout step budget per settle (1..5000)")
	fs.Float64Var(&c.LayoutEpsilon, "layout-epsilon", 0.5, "force layout convergence threshold in pixels")

	fs.StringVar(&c.GraphURI, "graph-uri", "", "Bolt URI of a Neo4j store to preload a batch from (empty = disabled)")
	fs.StringVar(&c.GraphDatabase, "graph-database", "", "Neo4j database name (empty = server default)")
	fs.StringVar(&c.GraphUsername, "graph-username", "", "Neo4j username (empty = no auth)")
	fs.StringVar(&c.GraphPassword, "graph-password", "", "Neo4j password")
	fs.StringVar(&c.GraphBatch, "graph-batch", "", "batch label to preload (empty = every transfer)")
	fs.StringVar(&c.GraphSurface, "graph-surface", "admin", "surface that receives the preloaded batch")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for report narratives (empty = no narrative)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for report narratives")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for confirmed block notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MaxUploadBytes < 1<<10 || c.MaxUploadBytes > 256<<20 {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_BYTES %d (must be 1KiB..256MiB)", c.MaxUploadBytes))
	}
	if c.DBSlowQueryMS < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must not be negative)", c.DBSlowQueryMS))
	}
	if c.DBMaxConnections < 0 || c.DBMaxConnections > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNECTIONS %d (must be 0..1000)", c.DBMaxConnections))
	}

	// Tokens are verified on every request, so the secret is always required
	if len(c.JWTSecret) < MinJWTSecret {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecret))
	}

	if c.AuthorityURL != "" {
		if u, err := url.Parse(c.AuthorityURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid AUTHORITY_URL %q (must be an http or https URL)", c.AuthorityURL))
		}
	}
	if c.ConfirmTimeoutSeconds <= 0 || c.ConfirmTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid CONFIRM_TIMEOUT_SECONDS %d (must be 1..120)", c.ConfirmTimeoutSeconds))
	}

	if c.LayoutIterations <= 0 || c.LayoutIterations > 5000 {
		errs = append(errs, fmt.Errorf("invalid LAYOUT_ITERATIONS %d (must be 1..5000)", c.LayoutIterations))
	}
	if !(c.LayoutEpsilon > 0) {
		errs = append(errs, fmt.Errorf("invalid LAYOUT_EPSILON %v (must be > 0)", c.LayoutEpsilon))
	}

	if c.GraphURI != "" {
		switch s := strings.ToLower(strings.TrimSpace(c.GraphSurface)); s {
		case "public", "admin", "loan":
		default:
			errs = append(errs, fmt.Errorf("invalid GRAPH_SURFACE %q (must be public, admin or loan)", c.GraphSurface))
		}
	}

	// Claude model is required whenever narratives are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ConfirmTimeout returns ConfirmTimeoutSeconds as a duration.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// SlowQuery returns DBSlowQueryMS as a duration.
func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.DBSlowQueryMS) * time.Millisecond
}

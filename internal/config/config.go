package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/events"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/monitoring"
	"github.com/makerspace/member-success/internal/outreach"
	"github.com/makerspace/member-success/internal/resilience"
)

// EnvPrefix prefixes every environment override, e.g.
// MEMBER_SUCCESS_STORE_DATABASE_URL.
const EnvPrefix = "MEMBER_SUCCESS"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store" mapstructure:"store"`
	Membership MembershipConfig       `yaml:"membership" mapstructure:"membership"`
	Salesforce SalesforceConfig       `yaml:"salesforce" mapstructure:"salesforce"`
	Thresholds model.Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Templates  outreach.Templates     `yaml:"templates" mapstructure:"templates"`
	Snapshot   SnapshotConfig         `yaml:"snapshot" mapstructure:"snapshot"`
	Kafka      events.KafkaConfig     `yaml:"kafka" mapstructure:"kafka"`
	Resilience resilience.Config      `yaml:"resilience" mapstructure:"resilience"`
	Monitoring monitoring.AlertConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig           `yaml:"server" mapstructure:"server"`
	Log        LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MembershipConfig configures the membership database read connection.
type MembershipConfig struct {
	Driver      string   `yaml:"driver" mapstructure:"driver"`
	DSN         string   `yaml:"dsn" mapstructure:"dsn"`
	Timezone    string   `yaml:"timezone" mapstructure:"timezone"`
	MemberRoles []string `yaml:"member_roles" mapstructure:"member_roles"`
}

// SalesforceConfig holds Salesforce JWT auth settings and the Contact field
// mapping.
type SalesforceConfig struct {
	ClientID  string     `yaml:"client_id" mapstructure:"client_id"`
	Username  string     `yaml:"username" mapstructure:"username"`
	KeyPath   string     `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string     `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64    `yaml:"rate_limit" mapstructure:"rate_limit"`
	Fields    crm.Fields `yaml:"fields" mapstructure:"fields"`
}

// Enabled reports whether Salesforce credentials are configured.
func (c SalesforceConfig) Enabled() bool {
	return c.ClientID != ""
}

// SnapshotConfig configures batch builds.
type SnapshotConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Every key gets a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	fields := crm.DefaultFields()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	v.SetDefault("membership.driver", "mysql")
	v.SetDefault("membership.dsn", "")
	v.SetDefault("membership.timezone", "")
	v.SetDefault("membership.member_roles", []string{"member", "member_pending_approval"})

	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("salesforce.fields.member_id", fields.MemberID)
	v.SetDefault("salesforce.fields.member_id_numeric", false)
	v.SetDefault("salesforce.fields.do_not_phone", fields.DoNotPhone)
	v.SetDefault("salesforce.fields.do_not_email", fields.DoNotEmail)
	v.SetDefault("salesforce.fields.do_not_sms", fields.DoNotSMS)
	v.SetDefault("salesforce.fields.do_not_mail", fields.DoNotMail)
	v.SetDefault("salesforce.fields.preferred_method", fields.PreferredMethod)

	v.SetDefault("thresholds.door_badge_term_id", model.DefaultDoorBadgeTermID)
	v.SetDefault("thresholds.badge_one_days", model.DefaultBadgeOneDays)
	v.SetDefault("thresholds.badge_four_days", model.DefaultBadgeFourDays)
	v.SetDefault("thresholds.new_member_days", model.DefaultNewMemberDays)
	v.SetDefault("thresholds.retention_recency_days", model.DefaultRetentionRecencyDays())

	for _, stage := range model.Stages {
		v.SetDefault("templates."+string(stage), "")
	}

	v.SetDefault("snapshot.concurrency", 4)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.write_timeout", 10*time.Second)

	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.jitter_fraction", 0.2)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)

	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.critical_threshold", 0)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Mode names what a command needs from the configuration.
type Mode string

const (
	ModeBuild     Mode = "build"     // membership + store
	ModeServe     Mode = "serve"     // membership + store + server
	ModeRead      Mode = "read"      // store only
	ModeTemplates Mode = "templates" // salesforce only
)

// Validate checks that the settings required by mode are present and sane.
func (c *Config) Validate(mode Mode) error {
	switch mode {
	case ModeBuild, ModeServe, ModeRead, ModeTemplates:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string
	needStore := mode == ModeBuild || mode == ModeServe || mode == ModeRead
	needMembership := mode == ModeBuild || mode == ModeServe

	if needStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite (got %q)", c.Store.Driver))
		}
	}

	if needMembership {
		switch c.Membership.Driver {
		case "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("membership.driver must be mysql or sqlite (got %q)", c.Membership.Driver))
		}
		if c.Membership.DSN == "" {
			errs = append(errs, "membership.dsn is required")
		}
		if _, err := c.Location(); err != nil {
			errs = append(errs, fmt.Sprintf("membership.timezone: %v", err))
		}
		if err := c.Thresholds.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Snapshot.Concurrency < 1 {
			errs = append(errs, "snapshot.concurrency must be >= 1")
		}
	}

	if mode == ModeServe && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port out of range (got %d)", c.Server.Port))
	}

	if mode == ModeTemplates && !c.Salesforce.Enabled() {
		errs = append(errs, "salesforce.client_id is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the membership time zone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Membership.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Membership.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Membership.Timezone)
	}
	return loc, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

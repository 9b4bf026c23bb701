package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Cloudinary   CloudinaryConfig
	Media        MediaConfig
	CRM          CRMConfig
	Drafts       DraftsConfig
	PubSub       PubSubConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.FeatureFlags.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INTAKE_APP_ENV" required:"true"`
	Port         string `envconfig:"INTAKE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"INTAKE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"INTAKE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"INTAKE_LOG_WARN_STACK" default:"false"`

	// AllowedOrigins is a comma-separated CORS allow-list for the browser wizard.
	AllowedOrigins []string `envconfig:"INTAKE_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"INTAKE_DB_DSN"`

	LegacyHost     string `envconfig:"INTAKE_DB_HOST"`
	LegacyPort     int    `envconfig:"INTAKE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"INTAKE_DB_USER"`
	LegacyPassword string `envconfig:"INTAKE_DB_PASSWORD"`
	LegacyName     string `envconfig:"INTAKE_DB_NAME"`
	LegacySSLMode  string `envconfig:"INTAKE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"INTAKE_SQLITE_PATH" default:"intake.db"`

	MaxOpenConns    int           `envconfig:"INTAKE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INTAKE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INTAKE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INTAKE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INTAKE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INTAKE_REDIS_ADDR"`
	Password     string        `envconfig:"INTAKE_REDIS_PASSWORD"`
	DB           int           `envconfig:"INTAKE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INTAKE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INTAKE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INTAKE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INTAKE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INTAKE_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"INTAKE_REDIS_KEY_PREFIX" default:"intake"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"INTAKE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"INTAKE_AUTO_MIGRATE" default:"false"`
	// AttachmentBackend selects where participant documents are stored: gcs or cloudinary.
	AttachmentBackend            string `envconfig:"INTAKE_ATTACHMENT_BACKEND" default:"gcs"`
	RequireParticipantAttachment bool   `envconfig:"INTAKE_REQUIRE_PARTICIPANT_ATTACHMENT" default:"false"`
	RequireStayDates             bool   `envconfig:"INTAKE_REQUIRE_STAY_DATES" default:"false"`
}

func (f FeatureFlagsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.AttachmentBackend)) {
	case AttachmentBackendGCS, AttachmentBackendCloudinary:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvAttachmentBackend, AttachmentBackendGCS, AttachmentBackendCloudinary)
	}
}

// Backend returns the normalized attachment backend name.
func (f FeatureFlagsConfig) Backend() string {
	return strings.ToLower(strings.TrimSpace(f.AttachmentBackend))
}

type GCPConfig struct {
	ProjectID              string `envconfig:"INTAKE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"INTAKE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"INTAKE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"INTAKE_GCS_BUCKET_NAME"`
	PublicBaseURL string `envconfig:"INTAKE_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

type CloudinaryConfig struct {
	CloudName string `envconfig:"INTAKE_CLOUDINARY_CLOUD_NAME"`
	APIKey    string `envconfig:"INTAKE_CLOUDINARY_API_KEY"`
	APISecret string `envconfig:"INTAKE_CLOUDINARY_API_SECRET"`
	Folder    string `envconfig:"INTAKE_CLOUDINARY_FOLDER" default:"intake"`
}

type MediaConfig struct {
	MaxUploadMB int `envconfig:"INTAKE_MAX_UPLOAD_MB" default:"10"`
}

// MaxUploadBytes converts the configured megabyte ceiling to bytes.
func (m MediaConfig) MaxUploadBytes() int64 {
	if m.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(m.MaxUploadMB) << 20
}

type CRMConfig struct {
	BaseURL  string        `envconfig:"INTAKE_CRM_BASE_URL" required:"true"`
	APIToken string        `envconfig:"INTAKE_CRM_API_TOKEN" required:"true"`
	BoardID  string        `envconfig:"INTAKE_CRM_BOARD_ID" required:"true"`
	Timeout  time.Duration `envconfig:"INTAKE_CRM_TIMEOUT" default:"15s"`
}

type DraftsConfig struct {
	CodeLength      int           `envconfig:"INTAKE_DRAFT_CODE_LENGTH" default:"7"`
	MaxCodeAttempts int           `envconfig:"INTAKE_DRAFT_MAX_CODE_ATTEMPTS" default:"5"`
	LookupWindow    time.Duration `envconfig:"INTAKE_DRAFT_LOOKUP_WINDOW" default:"1m"`
	LookupIPLimit   int           `envconfig:"INTAKE_DRAFT_LOOKUP_IP_LIMIT" default:"30"`
	RetentionDays   int           `envconfig:"INTAKE_DRAFT_RETENTION_DAYS" default:"180"`
}

// Retention returns how long an untouched draft is kept.
func (d DraftsConfig) Retention() time.Duration {
	if d.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

type PubSubConfig struct {
	IntakeTopic string `envconfig:"INTAKE_PUBSUB_INTAKE_TOPIC"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"INTAKE_CRON_INTERVAL" default:"1h"`
	LockTTL        time.Duration `envconfig:"INTAKE_CRON_LOCK_TTL" default:"55m"`
	ReconcileBatch int           `envconfig:"INTAKE_CRON_RECONCILE_BATCH" default:"50"`
}

// ClientConfig configures the terminal wizard driver.
type ClientConfig struct {
	APIURL  string        `envconfig:"INTAKE_API_URL" default:"http://localhost:8080"`
	Locale  string        `envconfig:"INTAKE_LOCALE" default:"en"`
	Timeout time.Duration `envconfig:"INTAKE_CLIENT_TIMEOUT" default:"20s"`
	// RequireParticipantAttachment mirrors the server flag so the CLI gates the same way.
	RequireParticipantAttachment bool `envconfig:"INTAKE_REQUIRE_PARTICIPANT_ATTACHMENT" default:"false"`
	RequireStayDates             bool `envconfig:"INTAKE_REQUIRE_STAY_DATES" default:"false"`
}

// LoadClient reads the CLI configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvAPIURL, err)
	}
	return &cfg, nil
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

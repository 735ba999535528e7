// Package config loads runtime settings from the environment and an optional
// .env file.
//
// Values already present in the process environment win over the .env file,
// which wins over defaults. Required values are not enforced at load time;
// each entry point asks for the subset it needs (RequireConnection,
// RequirePipeline) so the connectivity check can report every missing name at
// once before it touches the network.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ctingest/internal/errs"
	"ctingest/internal/storage"
)

// Environment keys.
const (
	KeyAccount   = "SNOWFLAKE_ACCOUNT"
	KeyUser      = "SNOWFLAKE_USER"
	KeyPassword  = "SNOWFLAKE_PASSWORD"
	KeyWarehouse = "SNOWFLAKE_WAREHOUSE"
	KeyDatabase  = "SNOWFLAKE_DATABASE"
	KeyRole      = "SNOWFLAKE_ROLE"
	KeySchema    = "SNOWFLAKE_SCHEMA"
	KeyDataURL   = "CT_DATA_URL"

	KeyWarehouseKind  = "WAREHOUSE_KIND"
	KeyWarehouseDSN   = "WAREHOUSE_DSN"
	KeyTargetTable    = "TARGET_TABLE"
	KeyAutoCreate     = "WAREHOUSE_AUTO_CREATE"
	KeyBatchSize      = "BATCH_SIZE"
	KeyDataTimeout    = "CT_DATA_TIMEOUT"
	KeyLogLevel       = "LOG_LEVEL"
	KeyLogPretty      = "LOG_PRETTY"
	KeyMetricsBackend = "METRICS_BACKEND"
	KeyPushgatewayURL = "PUSHGATEWAY_URL"
	KeyMetricsTags    = "METRICS_TAGS"
	KeyJobName        = "JOB_NAME"
)

// Defaults.
const (
	DefaultSchema        = "PUBLIC"
	DefaultWarehouseKind = "snowflake"
	DefaultTargetTable   = "CT_REAL_ESTATE.BRONZE.raw_sales"
	DefaultBatchSize     = 5000
	DefaultDataTimeout   = 300 * time.Second
	DefaultJobName       = "ct_real_estate_ingest"
)

// snowflakeRequired is the fixed set checked by the connectivity check when
// the warehouse kind is snowflake.
var snowflakeRequired = []string{KeyAccount, KeyUser, KeyPassword, KeyWarehouse, KeyDatabase}

// Settings is the resolved runtime configuration.
type Settings struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Role      string
	Schema    string
	DataURL   string

	WarehouseKind string
	WarehouseDSN  string
	TargetTable   string
	AutoCreate    bool
	BatchSize     int
	DataTimeout   time.Duration

	LogLevel  string
	LogPretty bool

	MetricsBackend string
	PushgatewayURL string
	MetricsTags    string
	JobName        string
}

// Options controls where Load looks for values.
type Options struct {
	// EnvFile is an optional dotenv file. A missing file is not an error.
	EnvFile string
}

// Load resolves Settings from the environment and opt.EnvFile.
func Load(opt Options) (Settings, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeySchema, DefaultSchema)
	v.SetDefault(KeyWarehouseKind, DefaultWarehouseKind)
	v.SetDefault(KeyTargetTable, DefaultTargetTable)
	v.SetDefault(KeyBatchSize, DefaultBatchSize)
	v.SetDefault(KeyDataTimeout, DefaultDataTimeout)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsBackend, "none")
	v.SetDefault(KeyJobName, DefaultJobName)

	if opt.EnvFile != "" {
		if _, err := os.Stat(opt.EnvFile); err == nil {
			v.SetConfigFile(opt.EnvFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("%w: read %s: %w", errs.ErrConfiguration, opt.EnvFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("%w: stat %s: %w", errs.ErrConfiguration, opt.EnvFile, err)
		}
	}

	s := Settings{
		Account:   str(v, KeyAccount),
		User:      str(v, KeyUser),
		Password:  str(v, KeyPassword),
		Warehouse: str(v, KeyWarehouse),
		Database:  str(v, KeyDatabase),
		Role:      str(v, KeyRole),
		Schema:    str(v, KeySchema),
		DataURL:   str(v, KeyDataURL),

		WarehouseKind: strings.ToLower(str(v, KeyWarehouseKind)),
		WarehouseDSN:  str(v, KeyWarehouseDSN),
		TargetTable:   str(v, KeyTargetTable),
		AutoCreate:    v.GetBool(KeyAutoCreate),
		BatchSize:     v.GetInt(KeyBatchSize),
		DataTimeout:   v.GetDuration(KeyDataTimeout),

		LogLevel:  str(v, KeyLogLevel),
		LogPretty: v.GetBool(KeyLogPretty),

		MetricsBackend: strings.ToLower(str(v, KeyMetricsBackend)),
		PushgatewayURL: str(v, KeyPushgatewayURL),
		MetricsTags:    str(v, KeyMetricsTags),
		JobName:        str(v, KeyJobName),
	}

	// Blank values fall back to defaults the same way unset ones do.
	if s.Schema == "" {
		s.Schema = DefaultSchema
	}
	if s.WarehouseKind == "" {
		s.WarehouseKind = DefaultWarehouseKind
	}
	if s.TargetTable == "" {
		s.TargetTable = DefaultTargetTable
	}
	return s, nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// ConnectionKeys returns the names the warehouse connection needs for the
// configured kind.
func (s Settings) ConnectionKeys() []string {
	if s.WarehouseKind == DefaultWarehouseKind {
		return append([]string(nil), snowflakeRequired...)
	}
	return []string{KeyWarehouseDSN}
}

// RequireConnection reports every missing connection setting at once.
func (s Settings) RequireConnection() error {
	return s.require(s.ConnectionKeys())
}

// RequirePipeline is RequireConnection plus the data source URL. It also
// rejects a non-positive batch size or download timeout, which only the
// pipeline uses.
func (s Settings) RequirePipeline() error {
	if err := s.require(append(s.ConnectionKeys(), KeyDataURL)); err != nil {
		return err
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("%w: %s must be > 0, got %d", errs.ErrConfiguration, KeyBatchSize, s.BatchSize)
	}
	if s.DataTimeout <= 0 {
		return fmt.Errorf("%w: %s must be > 0, got %s", errs.ErrConfiguration, KeyDataTimeout, s.DataTimeout)
	}
	return nil
}

func (s Settings) require(keys []string) error {
	var missing []string
	for _, k := range keys {
		if s.Value(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

// Value returns the resolved value for a known key, or "" for unknown keys.
func (s Settings) Value(key string) string {
	switch key {
	case KeyAccount:
		return s.Account
	case KeyUser:
		return s.User
	case KeyPassword:
		return s.Password
	case KeyWarehouse:
		return s.Warehouse
	case KeyDatabase:
		return s.Database
	case KeyRole:
		return s.Role
	case KeySchema:
		return s.Schema
	case KeyDataURL:
		return s.DataURL
	case KeyWarehouseDSN:
		return s.WarehouseDSN
	case KeyWarehouseKind:
		return s.WarehouseKind
	}
	return ""
}

// Storage converts the settings into a storage backend configuration.
func (s Settings) Storage() storage.Config {
	return storage.Config{
		Kind: s.WarehouseKind,
		DSN:  s.WarehouseDSN,
		Params: storage.Params{
			Account:   s.Account,
			User:      s.User,
			Password:  s.Password,
			Warehouse: s.Warehouse,
			Database:  s.Database,
			Schema:    s.Schema,
			Role:      s.Role,
		},
	}
}

// MissingError lists every required setting that was empty or unset.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required settings: " + strings.Join(e.Names, ", ")
}

// Is makes MissingError match errs.ErrConfiguration.
func (e *MissingError) Is(target error) bool {
	return target == errs.ErrConfiguration
}

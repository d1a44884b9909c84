package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Server
	ServerPort      string
	CORSAllowOrigin string
	Environment     string

	// Logging
	LogLevel string
	LogFile  string

	// Dependency table; empty selects the built-in table
	DependencyTable string

	// Cache
	CacheBackend string
	RedisURL     string
	BadgerPath   string

	// Archives (optional)
	DatabaseURL    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Messaging (optional)
	RabbitMQURL string

	// Health score sources
	HealthScoreURL string
	HealthScoreRPS float64
	EnableDocker   bool
	DockerNetwork  string
	EnableK8s      bool
	KubeConfig     string
	K8sNamespace   string
	EnableAWS      bool
	AWSRegion      string

	// Dependency monitor loops
	HealthCheckInterval   time.Duration
	CascadeInterval       time.Duration
	BreakerInterval       time.Duration
	PreventionInterval    time.Duration
	MaintenanceInterval   time.Duration
	RollbackRiskThreshold float64

	// Rollback manager
	AutoRollback                bool
	SnapshotInterval            time.Duration
	TriggerInterval             time.Duration
	ExecutionInterval           time.Duration
	RollbackMaintenanceInterval time.Duration
	SnapshotRetention           time.Duration
	HealthWaitTimeout           time.Duration
	CriticalServices            []string
	ConfigFiles                 []string
	MaxManualBlastRadius        float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("cors_allow_origin", "http://localhost:5173")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("dependency_table", "")

	v.SetDefault("cache_backend", "redis")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("badger_path", "")

	v.SetDefault("database_url", "")
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "depmon-snapshots")
	v.SetDefault("minio_use_ssl", false)

	v.SetDefault("rabbitmq_url", "")

	v.SetDefault("health_score_url", "")
	v.SetDefault("health_score_rps", 20.0)
	v.SetDefault("enable_docker", true)
	v.SetDefault("docker_network", "")
	v.SetDefault("enable_k8s", false)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("k8s_namespace", "default")
	v.SetDefault("enable_aws", false)
	v.SetDefault("aws_default_region", "us-east-1")

	v.SetDefault("health_check_interval", 30*time.Second)
	v.SetDefault("cascade_interval", 60*time.Second)
	v.SetDefault("breaker_interval", 10*time.Second)
	v.SetDefault("prevention_interval", 30*time.Second)
	v.SetDefault("maintenance_interval", 5*time.Minute)
	v.SetDefault("rollback_risk_threshold", 0.8)

	v.SetDefault("auto_rollback", true)
	v.SetDefault("snapshot_interval", 30*time.Minute)
	v.SetDefault("trigger_interval", 30*time.Second)
	v.SetDefault("execution_interval", 15*time.Second)
	v.SetDefault("rollback_maintenance_interval", time.Hour)
	v.SetDefault("snapshot_retention", 7*24*time.Hour)
	v.SetDefault("health_wait_timeout", 120*time.Second)
	v.SetDefault("critical_services", []string{"postgres", "redis", "api"})
	v.SetDefault("config_files", []string{})
	v.SetDefault("max_manual_blast_radius", 0.5)
}

// Load reads configuration from defaults, an optional file named by
// CONFIG_FILE, and environment variables, in increasing precedence
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		ServerPort:      v.GetString("server_port"),
		CORSAllowOrigin: v.GetString("cors_allow_origin"),
		Environment:     v.GetString("environment"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),

		DependencyTable: v.GetString("dependency_table"),

		CacheBackend: v.GetString("cache_backend"),
		RedisURL:     v.GetString("redis_url"),
		BadgerPath:   v.GetString("badger_path"),

		DatabaseURL:    v.GetString("database_url"),
		MinioEndpoint:  v.GetString("minio_endpoint"),
		MinioAccessKey: v.GetString("minio_access_key"),
		MinioSecretKey: v.GetString("minio_secret_key"),
		MinioBucket:    v.GetString("minio_bucket"),
		MinioUseSSL:    v.GetBool("minio_use_ssl"),

		RabbitMQURL: v.GetString("rabbitmq_url"),

		HealthScoreURL: v.GetString("health_score_url"),
		HealthScoreRPS: v.GetFloat64("health_score_rps"),
		EnableDocker:   v.GetBool("enable_docker"),
		DockerNetwork:  v.GetString("docker_network"),
		EnableK8s:      v.GetBool("enable_k8s"),
		KubeConfig:     v.GetString("kubeconfig"),
		K8sNamespace:   v.GetString("k8s_namespace"),
		EnableAWS:      v.GetBool("enable_aws"),
		AWSRegion:      v.GetString("aws_default_region"),

		HealthCheckInterval:   v.GetDuration("health_check_interval"),
		CascadeInterval:       v.GetDuration("cascade_interval"),
		BreakerInterval:       v.GetDuration("breaker_interval"),
		PreventionInterval:    v.GetDuration("prevention_interval"),
		MaintenanceInterval:   v.GetDuration("maintenance_interval"),
		RollbackRiskThreshold: v.GetFloat64("rollback_risk_threshold"),

		AutoRollback:                v.GetBool("auto_rollback"),
		SnapshotInterval:            v.GetDuration("snapshot_interval"),
		TriggerInterval:             v.GetDuration("trigger_interval"),
		ExecutionInterval:           v.GetDuration("execution_interval"),
		RollbackMaintenanceInterval: v.GetDuration("rollback_maintenance_interval"),
		SnapshotRetention:           v.GetDuration("snapshot_retention"),
		HealthWaitTimeout:           v.GetDuration("health_wait_timeout"),
		CriticalServices:            stringList(v, "critical_services"),
		ConfigFiles:                 stringList(v, "config_files"),
		MaxManualBlastRadius:        v.GetFloat64("max_manual_blast_radius"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the loops cannot run with
func (c *Config) Validate() error {
	intervals := map[string]time.Duration{
		"HEALTH_CHECK_INTERVAL":         c.HealthCheckInterval,
		"CASCADE_INTERVAL":              c.CascadeInterval,
		"BREAKER_INTERVAL":              c.BreakerInterval,
		"PREVENTION_INTERVAL":           c.PreventionInterval,
		"MAINTENANCE_INTERVAL":          c.MaintenanceInterval,
		"SNAPSHOT_INTERVAL":             c.SnapshotInterval,
		"TRIGGER_INTERVAL":              c.TriggerInterval,
		"EXECUTION_INTERVAL":            c.ExecutionInterval,
		"ROLLBACK_MAINTENANCE_INTERVAL": c.RollbackMaintenanceInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxManualBlastRadius <= 0 || c.MaxManualBlastRadius > 1 {
		return fmt.Errorf("MAX_MANUAL_BLAST_RADIUS must be in (0, 1], got %v", c.MaxManualBlastRadius)
	}
	switch c.CacheBackend {
	case "redis", "badger":
	default:
		return fmt.Errorf("CACHE_BACKEND must be redis or badger, got %q", c.CacheBackend)
	}
	return nil
}

// stringList accepts a YAML list or a comma-separated environment value
func stringList(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case string:
		return splitList(raw)
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

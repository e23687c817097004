package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Storage    StorageConfig       `json:"storage" yaml:"storage"`
	Browser    BrowserConfig       `json:"browser" yaml:"browser"`
	Detection  DetectionConfig     `json:"detection" yaml:"detection"`
	Adaptive   AdaptiveConfig      `json:"adaptive" yaml:"adaptive"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DatabaseConfig selects the PostgreSQL store when DSN is set; otherwise the
// JSON file store under Storage.Dir is used.
type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type StorageConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	MaxHistory int    `json:"max_history" yaml:"max_history"`
}

type BrowserConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
}

type DetectionConfig struct {
	ProbeTimeoutSec int `json:"probe_timeout_sec" yaml:"probe_timeout_sec"`
}

type AdaptiveConfig struct {
	MinImprovementPercent float64  `json:"min_improvement_percent" yaml:"min_improvement_percent"`
	AutoDeploy            *bool    `json:"auto_deploy" yaml:"auto_deploy"`
	ExcellentScore        int      `json:"excellent_score" yaml:"excellent_score"`
	IterationBudget       int      `json:"iteration_budget" yaml:"iteration_budget"`
	OptimizerCommand      []string `json:"optimizer_command" yaml:"optimizer_command"`
	OptimizerTimeoutSec   int      `json:"optimizer_timeout_sec" yaml:"optimizer_timeout_sec"`
	ScheduleHours         float64  `json:"schedule_hours" yaml:"schedule_hours"`
}

// AutoDeployEnabled defaults to true when the field is omitted.
func (c AdaptiveConfig) AutoDeployEnabled() bool {
	if c.AutoDeploy == nil {
		return true
	}
	return *c.AutoDeploy
}

// SecurityConfig guards the control surface. AdminTokenBcrypt takes
// precedence over the plaintext AdminToken when both are set.
type SecurityConfig struct {
	AdminToken       string `json:"admin_token" yaml:"admin_token"`
	AdminTokenBcrypt string `json:"admin_token_bcrypt" yaml:"admin_token_bcrypt"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Storage: StorageConfig{
			Dir:        "./data",
			MaxHistory: 50,
		},
		Browser: BrowserConfig{
			BaseURL:    "http://localhost:3000",
			TimeoutSec: 60,
		},
		Detection: DetectionConfig{
			ProbeTimeoutSec: 45,
		},
		Adaptive: AdaptiveConfig{
			MinImprovementPercent: 5,
			ExcellentScore:        95,
			IterationBudget:       50,
			OptimizerTimeoutSec:   120,
		},
		Observer: ObservabilityConfig{
			ServiceName: "adaptd",
			SampleRatio: 1,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		cfg.Storage.Dir = "./data"
	}
	if cfg.Storage.MaxHistory <= 0 {
		cfg.Storage.MaxHistory = 50
	}
	if strings.TrimSpace(cfg.Browser.BaseURL) == "" {
		cfg.Browser.BaseURL = "http://localhost:3000"
	}
	if cfg.Browser.TimeoutSec <= 0 {
		cfg.Browser.TimeoutSec = 60
	}
	if cfg.Detection.ProbeTimeoutSec <= 0 {
		cfg.Detection.ProbeTimeoutSec = 45
	}
	if cfg.Adaptive.MinImprovementPercent <= 0 {
		cfg.Adaptive.MinImprovementPercent = 5
	}
	if cfg.Adaptive.ExcellentScore <= 0 || cfg.Adaptive.ExcellentScore > 100 {
		cfg.Adaptive.ExcellentScore = 95
	}
	if cfg.Adaptive.IterationBudget <= 0 {
		cfg.Adaptive.IterationBudget = 50
	}
	if cfg.Adaptive.OptimizerTimeoutSec <= 0 {
		cfg.Adaptive.OptimizerTimeoutSec = 120
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "adaptd"
	}
}

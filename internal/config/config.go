package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port      int              `json:"port"`
	JWTSecret string           `json:"jwt_secret"`
	LogConfig logger.LogConfig `json:"log_config"`
	Database  DatabaseConfig   `json:"database"`
	FileStore FileStoreConfig  `json:"file_store"`
	Search    SearchConfig     `json:"search"`
	Training  TrainingConfig   `json:"training"`
	Cache     CacheConfig      `json:"cache"`
	Worker    WorkerConfig     `json:"worker"`
}

type DatabaseConfig struct {
	Type     string `json:"type"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// ConnString returns DSN when set, otherwise a libpq keyword string.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	parts = append(parts, fmt.Sprintf("dbname=%s", c.DBName), fmt.Sprintf("sslmode=%s", c.SSLMode))
	return strings.Join(parts, " ")
}

// FileStoreConfig selects an artifact store; Data is decoded by the
// registered store factory.
type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type SearchConfig struct {
	EasyPositiveK            int    `json:"easy_positive_k"`
	BoundaryN                int    `json:"boundary_n"`
	BoundaryM                int    `json:"boundary_m"`
	OthersP                  int    `json:"others_p"`
	BoundarySkip             *int   `json:"boundary_skip"`
	Combine                  string `json:"combine"`
	DiversityCandidateCap    int    `json:"diversity_candidate_cap"`
	ActiveLearningDiversityP int    `json:"active_learning_diversity_p"`
	SearchCompleteThreshold  int    `json:"search_complete_threshold"`
	ScanBatchSize            int    `json:"scan_batch_size"`
	ScanWorkers              int    `json:"scan_workers"`
	Seed                     int64  `json:"seed"`
}

type TrainingConfig struct {
	MinPositive         int     `json:"min_positive"`
	MinNegative         int     `json:"min_negative"`
	Lambda              float64 `json:"lambda"`
	Epochs              int     `json:"epochs"`
	PseudoHigh          float64 `json:"pseudo_high"`
	PseudoLow           float64 `json:"pseudo_low"`
	PseudoRounds        int     `json:"pseudo_rounds"`
	PseudoMaxPerRound   int     `json:"pseudo_max_per_round"`
	PseudoLabelPoolSize int     `json:"pseudo_label_pool_size"`
}

type CacheConfig struct {
	InterimSize       int `json:"interim_size"`
	InterimTTLMinutes int `json:"interim_ttl_minutes"`
	ModelSize         int `json:"model_size"`
}

type WorkerConfig struct {
	Concurrency          int    `json:"concurrency"`
	QueueSize            int    `json:"queue_size"`
	TaskRetentionMinutes int    `json:"task_retention_minutes"`
	CleanupSpec          string `json:"cleanup_spec"`
	SubmitWindowSeconds  int    `json:"submit_window_seconds"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if err := cfg.Database.normalize(); err != nil {
		return err
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if cfg.FileStore.Data == nil {
		return fmt.Errorf("file_store.data is required")
	}
	if err := cfg.Search.normalize(); err != nil {
		return err
	}
	if err := cfg.Training.normalize(); err != nil {
		return err
	}
	cfg.Cache.normalize()
	cfg.Worker.normalize()
	return nil
}

func (c *DatabaseConfig) normalize() error {
	if c.Type == "" {
		c.Type = "postgres"
	}
	switch c.Type {
	case "memory":
		return nil
	case "postgres":
	default:
		return fmt.Errorf("database.type must be postgres or memory")
	}
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" || c.User == "" || c.DBName == "" {
		return fmt.Errorf("database host/user/dbname are required when dsn is empty")
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return nil
}

func (c *SearchConfig) normalize() error {
	if c.EasyPositiveK < 0 || c.BoundaryN < 0 || c.BoundaryM < 0 || c.OthersP < 0 {
		return fmt.Errorf("search sampling params must not be negative")
	}
	if c.EasyPositiveK == 0 {
		c.EasyPositiveK = 5
	}
	if c.BoundaryN == 0 {
		c.BoundaryN = 200
	}
	if c.BoundaryM == 0 {
		c.BoundaryM = 10
	}
	if c.OthersP == 0 {
		c.OthersP = 20
	}
	if c.BoundarySkip != nil && *c.BoundarySkip < 0 {
		return fmt.Errorf("search.boundary_skip must not be negative")
	}
	switch c.Combine {
	case "":
		c.Combine = "mean"
	case "mean", "max":
	default:
		return fmt.Errorf("search.combine must be mean or max")
	}
	if c.DiversityCandidateCap == 0 {
		c.DiversityCandidateCap = 2000
	}
	if c.SearchCompleteThreshold == 0 {
		c.SearchCompleteThreshold = 2
	}
	if c.ScanBatchSize == 0 {
		c.ScanBatchSize = 2000
	}
	if c.ScanWorkers == 0 {
		c.ScanWorkers = 4
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return nil
}

func (c *TrainingConfig) normalize() error {
	if c.MinPositive == 0 {
		c.MinPositive = 3
	}
	if c.MinNegative == 0 {
		c.MinNegative = 3
	}
	if c.MinPositive < 1 || c.MinNegative < 1 {
		return fmt.Errorf("training minimums must be positive")
	}
	if c.PseudoHigh == 0 {
		c.PseudoHigh = 0.9
	}
	if c.PseudoLow == 0 {
		c.PseudoLow = 0.1
	}
	if c.PseudoLow >= c.PseudoHigh || c.PseudoHigh > 1 || c.PseudoLow < 0 {
		return fmt.Errorf("training pseudo thresholds must satisfy 0 <= low < high <= 1")
	}
	if c.PseudoLabelPoolSize == 0 {
		c.PseudoLabelPoolSize = 500
	}
	return nil
}

func (c *CacheConfig) normalize() {
	if c.InterimSize == 0 {
		c.InterimSize = 128
	}
	if c.InterimTTLMinutes == 0 {
		c.InterimTTLMinutes = 120
	}
	if c.ModelSize == 0 {
		c.ModelSize = 32
	}
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency == 0 {
		c.Concurrency = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.TaskRetentionMinutes == 0 {
		c.TaskRetentionMinutes = 60
	}
	if c.CleanupSpec == "" {
		c.CleanupSpec = "*/10 * * * *"
	}
	if c.SubmitWindowSeconds == 0 {
		c.SubmitWindowSeconds = 2
	}
}

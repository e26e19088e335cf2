package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Type         string `yaml:"type" json:"type"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	DatabaseName string `yaml:"database_name" json:"database_name"`
	DSN          string `yaml:"dsn" json:"dsn"` // optional explicit DSN
}

// CacheConfig locates the persistent schema store; empty disables it.
type CacheConfig struct {
	SchemaFile string `yaml:"schema_file" json:"schema_file"`
}

// LockingConfig is the default optimistic locking policy of new containers.
type LockingConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Properties []string `yaml:"properties" json:"properties"` // empty means all modified properties
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

type AppConfig struct {
	Database DBConfig      `yaml:"database" json:"database"`
	Cache    CacheConfig   `yaml:"cache" json:"cache"`
	Locking  LockingConfig `yaml:"locking" json:"locking"`
	Log      LogConfig     `yaml:"log" json:"log"`
}

// LoadFile loads YAML config from path.
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv reads KEY=value pairs from the given .env files into the process
// environment. Variables that are already set are not overwritten. Missing
// files are not an error.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the DBKIT_* environment variables that are set.
func ApplyEnv(cfg *AppConfig) error {
	strs := map[string]*string{
		"DBKIT_DB_TYPE":     &cfg.Database.Type,
		"DBKIT_DB_HOST":     &cfg.Database.Host,
		"DBKIT_DB_USER":     &cfg.Database.Username,
		"DBKIT_DB_PASSWORD": &cfg.Database.Password,
		"DBKIT_DB_NAME":     &cfg.Database.DatabaseName,
		"DBKIT_DB_DSN":      &cfg.Database.DSN,
		"DBKIT_SCHEMA_FILE": &cfg.Cache.SchemaFile,
		"DBKIT_LOG_LEVEL":   &cfg.Log.Level,
	}
	for key, field := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}

	if v, ok := os.LookupEnv("DBKIT_DB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DBKIT_DB_PORT: %w", err)
		}
		cfg.Database.Port = port
	}
	if v, ok := os.LookupEnv("DBKIT_LOCKING"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DBKIT_LOCKING: %w", err)
		}
		cfg.Locking.Enabled = enabled
	}
	if v, ok := os.LookupEnv("DBKIT_LOCKING_PROPERTIES"); ok {
		cfg.Locking.Properties = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Locking.Properties = append(cfg.Locking.Properties, p)
			}
		}
	}
	return nil
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres":
		return "postgres"
	case "mysql", "mariadb", "tidb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	// If explicit DSN provided, user must also set Type to choose driver or we guess
	t := NormalizeDriver(db.Type)

	if db.DSN != "" {
		if t == "mysql" {
			dsn, err := MySQLDSN(db.DSN)
			if err != nil {
				return "", "", err
			}
			return t, dsn, nil
		}
		return t, db.DSN, nil
	}

	switch t {
	case "postgres":
		driver = "postgres"
		// simple URL form
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		cfg := mysql.NewConfig()
		cfg.User = db.Username
		cfg.Passwd = db.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", db.Host, db.Port)
		cfg.DBName = db.DatabaseName
		cfg.ParseTime = true
		cfg.ClientFoundRows = true
		dsn = cfg.FormatDSN()
	case "sqlite":
		driver = "sqlite"
		if db.DatabaseName == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_name")
		}
		if db.DatabaseName == ":memory:" {
			dsn = db.DatabaseName
		} else {
			dsn = fmt.Sprintf("file:%s", db.DatabaseName)
		}
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}

// MySQLDSN returns dsn with clientFoundRows enabled. It makes UPDATE report
// matched rather than changed rows, which optimistic locking relies on.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

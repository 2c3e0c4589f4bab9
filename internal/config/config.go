package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Iiko     IikoConfig     `yaml:"iiko"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	StopList StopListConfig `yaml:"stop_list"`
}

type AppConfig struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type IikoConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Запросов в секунду на одного клиента; 0 отключает лимитер.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	SubmitTopic string   `yaml:"submit_topic"`
	GroupID     string   `yaml:"group_id"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DispatchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

type StopListConfig struct {
	WorkingStart       string        `yaml:"working_start"`
	WorkingEnd         string        `yaml:"working_end"`
	DefaultIntervalMin int           `yaml:"default_interval_min"`
	Tick               time.Duration `yaml:"tick"`
	TimeZone           string        `yaml:"time_zone"`
}

func defaults() *Config {
	return &Config{
		App: AppConfig{Port: "8080", Env: "development", LogLevel: "debug"},
		Postgres: PostgresConfig{
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MigrationsPath:  "migrations",
		},
		Iiko: IikoConfig{
			BaseURL:   "https://api-ru.iiko.services",
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     5,
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"localhost:9092"},
			SubmitTopic: "order-submissions",
			GroupID:     "delivery-worker",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Dispatch: DispatchConfig{
			MaxAttempts: 3,
			RetryDelay:  10 * time.Second,
			LockTTL:     2 * time.Minute,
		},
		StopList: StopListConfig{
			WorkingStart:       "08:00",
			WorkingEnd:         "23:59",
			DefaultIntervalMin: 30,
			Tick:               time.Minute,
			TimeZone:           "Asia/Almaty",
		},
	}
}

// NewConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл из
// CONFIG_FILE (если задан), затем переменные окружения (.env подхватывается godotenv).
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Iiko.BaseURL, "IIKO_BASE_URL")
	setString(&cfg.Kafka.SubmitTopic, "KAFKA_SUBMIT_TOPIC")
	setString(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.StopList.WorkingStart, "STOP_LIST_SYNC_WORKING_START")
	setString(&cfg.StopList.WorkingEnd, "STOP_LIST_SYNC_WORKING_END")
	setString(&cfg.StopList.TimeZone, "TIME_ZONE")

	var err error
	if err = setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if err = setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Iiko.Timeout, "IIKO_TIMEOUT"); err != nil {
		return err
	}
	if err = setFloat(&cfg.Iiko.RateLimit, "IIKO_RATE_LIMIT"); err != nil {
		return err
	}
	if err = setInt(&cfg.Iiko.Burst, "IIKO_BURST"); err != nil {
		return err
	}
	if err = setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err = setInt(&cfg.Dispatch.MaxAttempts, "DISPATCH_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Dispatch.RetryDelay, "DISPATCH_RETRY_DELAY"); err != nil {
		return err
	}
	if err = setDuration(&cfg.Dispatch.LockTTL, "DISPATCH_LOCK_TTL"); err != nil {
		return err
	}
	if err = setInt(&cfg.StopList.DefaultIntervalMin, "STOP_LIST_INTERVAL_MIN"); err != nil {
		return err
	}
	if err = setDuration(&cfg.StopList.Tick, "STOP_LIST_TICK"); err != nil {
		return err
	}

	return nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"DB_HOST":     c.Postgres.Host,
		"DB_PORT":     c.Postgres.Port,
		"DB_USER":     c.Postgres.User,
		"DB_PASSWORD": c.Postgres.Password,
		"DB_NAME":     c.Postgres.DBName,
	}
	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: required settings are missing: %s", strings.Join(missing, ", "))
	}

	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("config: DISPATCH_MAX_ATTEMPTS must be positive, got %d", c.Dispatch.MaxAttempts)
	}
	if c.StopList.DefaultIntervalMin < 1 {
		return fmt.Errorf("config: STOP_LIST_INTERVAL_MIN must be positive, got %d", c.StopList.DefaultIntervalMin)
	}
	if _, err := time.LoadLocation(c.StopList.TimeZone); err != nil {
		return fmt.Errorf("config: invalid TIME_ZONE %q: %w", c.StopList.TimeZone, err)
	}
	return nil
}

// Location возвращает часовой пояс, в котором считаются рабочие окна терминалов.
func (c StopListConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = int32(n)
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

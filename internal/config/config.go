package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Broker   BrokerConfig   `yaml:"broker"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	JWT      JWTConfig      `yaml:"jwt"`
	Care     CareConfig     `yaml:"care"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // debug | release | test
	// 每个用户每秒写请求数，0 表示不限
	WriteRPS   float64 `yaml:"write_rps"`
	WriteBurst int     `yaml:"write_burst"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // mysql | postgres | sqlite
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BrokerConfig struct {
	Kind     string   `yaml:"kind"` // kafka | rabbitmq | log
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	AMQPURL  string   `yaml:"amqp_url"`
	Exchange string   `yaml:"exchange"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// 邀请链接前缀，token 拼在后面
	InviteURL string `yaml:"invite_url"`
}

type JWTConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

type CareConfig struct {
	Timezone        string        `yaml:"timezone"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	GraceWindow     time.Duration `yaml:"grace_window"`
	InviteTTL       time.Duration `yaml:"invite_ttl"`
	FanoutSyncLimit int           `yaml:"fanout_sync_limit"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SweepBatch      int           `yaml:"sweep_batch"`
}

// MinInviteTTL 邀请链接最短有效期
const MinInviteTTL = 24 * time.Hour

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", Mode: "release", WriteRPS: 5, WriteBurst: 10},
		Database: DatabaseConfig{
			Driver:       "mysql",
			DSN:          "care:care@tcp(127.0.0.1:3306)/care?charset=utf8mb4&parseTime=True&loc=Local",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			ConnMaxLife:  30 * time.Minute,
		},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379"},
		Broker: BrokerConfig{Kind: "log", Brokers: []string{"127.0.0.1:9092"}, Topic: "care-events", Exchange: "care.events"},
		SMTP:   SMTPConfig{Port: 465, InviteURL: "https://care.example.com/invite/"},
		JWT:    JWTConfig{AccessTTL: 30 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		Care: CareConfig{
			Timezone:        "Asia/Shanghai",
			SweepInterval:   60 * time.Second,
			GraceWindow:     2 * time.Hour,
			InviteTTL:       72 * time.Hour,
			FanoutSyncLimit: 5000,
			RequestTimeout:  5 * time.Second,
			SweepBatch:      500,
		},
	}
}

// Load 读取顺序：.env -> yaml 文件 -> CARE_* 环境变量，缺省值兜底。
// path 为空时取 CARE_CONFIG，再为空取 config.yaml；文件不存在不算错误。
func Load(path string) (Config, error) {
	// .env 只是补充环境变量，缺失时忽略
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = envStr("CARE_CONFIG", "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Addr = envStr("CARE_ADDR", c.Server.Addr)
	c.Server.Mode = envStr("CARE_MODE", c.Server.Mode)
	c.Database.Driver = envStr("CARE_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envStr("CARE_DB_DSN", c.Database.DSN)
	c.Redis.Addr = envStr("CARE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envStr("CARE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("CARE_REDIS_DB", c.Redis.DB)
	c.Broker.Kind = envStr("CARE_BROKER", c.Broker.Kind)
	c.Broker.AMQPURL = envStr("CARE_AMQP_URL", c.Broker.AMQPURL)
	c.SMTP.Host = envStr("CARE_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Username = envStr("CARE_SMTP_USER", c.SMTP.Username)
	c.SMTP.Password = envStr("CARE_SMTP_PASSWORD", c.SMTP.Password)
	c.JWT.AccessSecret = envStr("CARE_JWT_ACCESS_SECRET", c.JWT.AccessSecret)
	c.JWT.RefreshSecret = envStr("CARE_JWT_REFRESH_SECRET", c.JWT.RefreshSecret)
	c.Care.Timezone = envStr("CARE_TIMEZONE", c.Care.Timezone)
	c.Care.SweepInterval = envDur("CARE_SWEEP_INTERVAL", c.Care.SweepInterval)
	c.Care.GraceWindow = envDur("CARE_GRACE_WINDOW", c.Care.GraceWindow)
	c.Care.InviteTTL = envDur("CARE_INVITE_TTL", c.Care.InviteTTL)
	c.Care.FanoutSyncLimit = envInt("CARE_FANOUT_SYNC_LIMIT", c.Care.FanoutSyncLimit)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Broker.Kind {
	case "kafka", "rabbitmq", "log":
	default:
		return fmt.Errorf("config: unknown broker %q", c.Broker.Kind)
	}
	if _, err := time.LoadLocation(c.Care.Timezone); err != nil {
		return fmt.Errorf("config: bad timezone %q: %w", c.Care.Timezone, err)
	}
	if c.Care.InviteTTL < MinInviteTTL {
		return fmt.Errorf("config: invite_ttl %s shorter than %s", c.Care.InviteTTL, MinInviteTTL)
	}
	if c.Care.SweepInterval <= 0 || c.Care.GraceWindow < 0 {
		return fmt.Errorf("config: sweep_interval must be positive and grace_window non-negative")
	}
	if c.Care.FanoutSyncLimit <= 0 || c.Care.SweepBatch <= 0 {
		return fmt.Errorf("config: fanout_sync_limit and sweep_batch must be positive")
	}
	return nil
}

// Location 服务唯一时区
func (c CareConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Apify      ApifyConfig      `mapstructure:"apify"`
	BrandBrain BrandBrainConfig `mapstructure:"brandbrain"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// DatabaseConfig 持久化配置；DSN 优先取 DATABASE_URL 环境变量
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ApifyConfig Actor 客户端配置；Token 优先取 APIFY_API_TOKEN、BaseURL 取 APIFY_BASE_URL
type ApifyConfig struct {
	Token          string  `mapstructure:"token"`
	BaseURL        string  `mapstructure:"base_url"`
	RequestTimeout string  `mapstructure:"request_timeout"` // 单次 HTTP 请求超时，如 "30s"
	PollTimeout    string  `mapstructure:"poll_timeout"`    // 轮询总预算，如 "10m"
	PollInterval   string  `mapstructure:"poll_interval"`   // 轮询间隔，如 "5s"
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// BrandBrainConfig compile 管线配置；BRANDBRAIN_* 环境变量可覆盖
type BrandBrainConfig struct {
	GlobalMaxItems             int     `mapstructure:"global_max_items"`     // bundle 全局上限，默认 40
	ActorTTLHours              float64 `mapstructure:"actor_ttl_hours"`      // 新鲜度 TTL，默认 24
	StaleLockMinutes           int     `mapstructure:"stale_lock_minutes"`   // 租约过期阈值，默认 10
	HeartbeatIntervalS         int     `mapstructure:"heartbeat_interval_s"` // 心跳间隔，默认 30；需远小于 stale_lock
	BackoffBaseSeconds         int     `mapstructure:"backoff_base_seconds"` // 重试 backoff 基数，默认 30
	BackoffMultiplier          float64 `mapstructure:"backoff_multiplier"`   // 默认 2
	MaxAttempts                int     `mapstructure:"max_attempts"`         // Job 最大尝试次数（含首次），默认 3
	PromptVersion              string  `mapstructure:"prompt_version"`
	Model                      string  `mapstructure:"model"`
	EnableLinkedinProfilePosts bool    `mapstructure:"enable_linkedin_profile_posts"` // feature flag：默认关闭
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	PollInterval       string `mapstructure:"poll_interval"`        // Claim 轮询间隔，如 "2s"
	StaleCheckInterval string `mapstructure:"stale_check_interval"` // 过期租约清扫间隔，如 "1m"
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件并套用环境变量覆盖；configPath 为空时按 configs/config.yaml 查找，找不到则全用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
		// 配置文件可选：不存在时仅用默认值 + 环境变量
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("无法读取配置文件: %w", err)
			}
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	applyEnvOverrides(&config)
	return &config, nil
}

// LoadAPIConfig API 进程入口使用
func LoadAPIConfig() (*Config, error) {
	return LoadConfig(os.Getenv("BRANDBRAIN_CONFIG"))
}

// LoadWorkerConfig Worker 进程入口使用
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig(os.Getenv("BRANDBRAIN_CONFIG"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.request_timeout", "30s")
	v.SetDefault("apify.poll_timeout", "10m")
	v.SetDefault("apify.poll_interval", "5s")
	v.SetDefault("apify.requests_per_sec", 5.0)
	v.SetDefault("brandbrain.global_max_items", 40)
	v.SetDefault("brandbrain.actor_ttl_hours", 24.0)
	v.SetDefault("brandbrain.stale_lock_minutes", 10)
	v.SetDefault("brandbrain.heartbeat_interval_s", 30)
	v.SetDefault("brandbrain.backoff_base_seconds", 30)
	v.SetDefault("brandbrain.backoff_multiplier", 2.0)
	v.SetDefault("brandbrain.max_attempts", 3)
	v.SetDefault("brandbrain.prompt_version", "v1")
	v.SetDefault("brandbrain.model", "stub-compiler-1")
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.stale_check_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// applyEnvOverrides 运维用环境变量优先于配置文件（BRANDBRAIN_* 名字与 viper 键名不完全一致，这里显式处理）
func applyEnvOverrides(c *Config) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if t := os.Getenv("APIFY_API_TOKEN"); t != "" {
		c.Apify.Token = t
	}
	if u := os.Getenv("APIFY_BASE_URL"); u != "" {
		c.Apify.BaseURL = u
	}
	if n, ok := envInt("BRANDBRAIN_GLOBAL_MAX_ITEMS"); ok {
		c.BrandBrain.GlobalMaxItems = n
	}
	if f, ok := envFloat("BRANDBRAIN_ACTOR_TTL_HOURS"); ok {
		c.BrandBrain.ActorTTLHours = f
	}
	if n, ok := envInt("BRANDBRAIN_STALE_LOCK_MINUTES"); ok {
		c.BrandBrain.StaleLockMinutes = n
	}
	if n, ok := envInt("BRANDBRAIN_HEARTBEAT_INTERVAL_S"); ok {
		c.BrandBrain.HeartbeatIntervalS = n
	}
	if n, ok := envInt("BRANDBRAIN_BACKOFF_BASE_SECONDS"); ok {
		c.BrandBrain.BackoffBaseSeconds = n
	}
	if f, ok := envFloat("BRANDBRAIN_BACKOFF_MULTIPLIER"); ok {
		c.BrandBrain.BackoffMultiplier = f
	}
	if _, set := os.LookupEnv("BRANDBRAIN_ENABLE_LINKEDIN_PROFILE_POSTS"); set {
		c.BrandBrain.EnableLinkedinProfilePosts = true
	}
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDurationOr 解析时长字符串，空或非法时返回 fallback
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// StaleLockThreshold 过期租约阈值
func (c *BrandBrainConfig) StaleLockThreshold() time.Duration {
	m := c.StaleLockMinutes
	if m <= 0 {
		m = 10
	}
	return time.Duration(m) * time.Minute
}

// HeartbeatInterval 心跳间隔
func (c *BrandBrainConfig) HeartbeatInterval() time.Duration {
	s := c.HeartbeatIntervalS
	if s <= 0 {
		s = 30
	}
	return time.Duration(s) * time.Second
}

// BackoffBase 重试 backoff 基数
func (c *BrandBrainConfig) BackoffBase() time.Duration {
	s := c.BackoffBaseSeconds
	if s <= 0 {
		s = 30
	}
	return time.Duration(s) * time.Second
}

// ActorTTL 新鲜度 TTL
func (c *BrandBrainConfig) ActorTTL() time.Duration {
	h := c.ActorTTLHours
	if h <= 0 {
		h = 24
	}
	return time.Duration(h * float64(time.Hour))
}

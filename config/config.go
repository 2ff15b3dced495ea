/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT       = "5011"
	DEFAULT_AGENT_PORT = "5012"

	DefaultStorageKey    = "floorsync.submissions"
	DefaultMaxRetries    = 3
	DefaultWebhookQueue  = "floorsync_webhooks"
	DefaultWakeQueue     = "floorsync_wake"
	DefaultCachePrefix   = "floorsync-static"
	DefaultCacheVersion  = "v1"
	DefaultSyncTag       = "sync-submissions"
	DefaultOfflinePage   = "/offline.html"
	DefaultMonitorPort   = "5013"
	DefaultWriteTimeout  = 15 * time.Second
	DefaultProbeInterval = 30 * time.Second
)

// DefaultSensitivePatterns mark auth and tenant API paths the agent never caches.
var DefaultSensitivePatterns = []string{`/auth/`, `/api/`, `/rest/v1/`, `/token`}

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"FLOORSYNC_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"FLOORSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"FLOORSYNC_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"FLOORSYNC_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"FLOORSYNC_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"FLOORSYNC_SERVER_PORT"`
}

// DataSourceConfig selects the queue store engine by scheme:
// sqlite://path, postgres://..., redis://... or memory://.
type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"FLOORSYNC_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"FLOORSYNC_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"FLOORSYNC_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	StorageKey       string `json:"storage_key" envconfig:"FLOORSYNC_QUEUE_STORAGE_KEY"`
	MaxRetries       int    `json:"max_retries" envconfig:"FLOORSYNC_QUEUE_MAX_RETRIES"`
	MaxBytes         int    `json:"max_bytes" envconfig:"FLOORSYNC_QUEUE_MAX_BYTES"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"FLOORSYNC_QUEUE_WEBHOOK_QUEUE"`
	WakeQueue        string `json:"wake_queue" envconfig:"FLOORSYNC_QUEUE_WAKE_QUEUE"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"FLOORSYNC_QUEUE_MONITORING_PORT"`
	DistributedGuard bool   `json:"distributed_guard" envconfig:"FLOORSYNC_QUEUE_DISTRIBUTED_GUARD"`
}

type SyncConfig struct {
	WriteTimeout  time.Duration `json:"write_timeout" envconfig:"FLOORSYNC_SYNC_WRITE_TIMEOUT"`
	ProbeURL      string        `json:"probe_url" envconfig:"FLOORSYNC_SYNC_PROBE_URL"`
	ProbeInterval time.Duration `json:"probe_interval" envconfig:"FLOORSYNC_SYNC_PROBE_INTERVAL"`
	MaxBackoff    time.Duration `json:"max_backoff" envconfig:"FLOORSYNC_SYNC_MAX_BACKOFF"`
}

type RemoteConfig struct {
	BaseURL   string        `json:"base_url" envconfig:"FLOORSYNC_REMOTE_BASE_URL"`
	APIKey    string        `json:"api_key" envconfig:"FLOORSYNC_REMOTE_API_KEY"`
	Timeout   time.Duration `json:"timeout" envconfig:"FLOORSYNC_REMOTE_TIMEOUT"`
	RateLimit int           `json:"rate_limit" envconfig:"FLOORSYNC_REMOTE_RATE_LIMIT"`
	RateBurst int           `json:"rate_burst" envconfig:"FLOORSYNC_REMOTE_RATE_BURST"`

	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled" envconfig:"FLOORSYNC_REMOTE_CIRCUIT_BREAKER"`
	CBFailureThreshold    int           `json:"cb_failure_threshold"`
	CBMinRequests         int           `json:"cb_min_requests"`
	CBRecoveryTime        time.Duration `json:"cb_recovery_time"`
	CBSamplingDuration    time.Duration `json:"cb_sampling_duration"`
	CBHalfOpenMaxSuccess  int           `json:"cb_half_open_max_success"`
}

type AgentConfig struct {
	Port              string   `json:"port" envconfig:"FLOORSYNC_AGENT_PORT"`
	Upstream          string   `json:"upstream" envconfig:"FLOORSYNC_AGENT_UPSTREAM"`
	CachePrefix       string   `json:"cache_prefix" envconfig:"FLOORSYNC_AGENT_CACHE_PREFIX"`
	CacheVersion      string   `json:"cache_version" envconfig:"FLOORSYNC_AGENT_CACHE_VERSION"`
	Precache          []string `json:"precache" envconfig:"FLOORSYNC_AGENT_PRECACHE"`
	// SensitivePatterns are added to DefaultSensitivePatterns, never substituted for them.
	SensitivePatterns []string `json:"sensitive_patterns" envconfig:"FLOORSYNC_AGENT_SENSITIVE_PATTERNS"`
	OfflinePage       string   `json:"offline_page" envconfig:"FLOORSYNC_AGENT_OFFLINE_PAGE"`
	SyncTag           string   `json:"sync_tag" envconfig:"FLOORSYNC_AGENT_SYNC_TAG"`
	RedisStorage      bool     `json:"redis_storage" envconfig:"FLOORSYNC_AGENT_REDIS_STORAGE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"FLOORSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"FLOORSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"FLOORSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type WebhookConfig struct {
	Url     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"FLOORSYNC_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"FLOORSYNC_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Sync            SyncConfig       `json:"sync"`
	Remote          RemoteConfig     `json:"remote"`
	Agent           AgentConfig      `json:"agent"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("floorsync", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called floorsync.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Floorsync"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Remote.BaseURL), "/")

	if strings.HasPrefix(cnf.DataSource.Dns, "redis://") && cnf.Redis.Dns == "" {
		cnf.Redis.Dns = strings.TrimPrefix(cnf.DataSource.Dns, "redis://")
	}

	if cnf.Queue.DistributedGuard && cnf.Redis.Dns == "" {
		log.Println("Error: distributed drain guard needs Redis.")
		return errors.New("redis DNS is required for the distributed drain guard")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setQueueDefaults()
	cnf.setSyncDefaults()
	cnf.setRemoteDefaults()
	cnf.setAgentDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.StorageKey == "" {
		cnf.Queue.StorageKey = DefaultStorageKey
	}
	if cnf.Queue.MaxRetries <= 0 {
		cnf.Queue.MaxRetries = DefaultMaxRetries
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DefaultWebhookQueue
	}
	if cnf.Queue.WakeQueue == "" {
		cnf.Queue.WakeQueue = DefaultWakeQueue
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DefaultMonitorPort
	}
}

func (cnf *Configuration) setSyncDefaults() {
	if cnf.Sync.WriteTimeout <= 0 {
		cnf.Sync.WriteTimeout = DefaultWriteTimeout
	}
	if cnf.Sync.ProbeInterval <= 0 {
		cnf.Sync.ProbeInterval = DefaultProbeInterval
	}
	if cnf.Sync.MaxBackoff <= 0 {
		cnf.Sync.MaxBackoff = 5 * time.Minute
	}
	if cnf.Sync.ProbeURL == "" && cnf.Remote.BaseURL != "" {
		cnf.Sync.ProbeURL = cnf.Remote.BaseURL + "/health"
	}
}

func (cnf *Configuration) setRemoteDefaults() {
	if cnf.Remote.Timeout <= 0 {
		cnf.Remote.Timeout = cnf.Sync.WriteTimeout
	}
	if cnf.Remote.RateLimit <= 0 {
		cnf.Remote.RateLimit = 600
	}
	if cnf.Remote.RateBurst <= 0 {
		cnf.Remote.RateBurst = 5
	}
	if cnf.Remote.CBFailureThreshold <= 0 {
		cnf.Remote.CBFailureThreshold = 5
	}
	if cnf.Remote.CBMinRequests <= 0 {
		cnf.Remote.CBMinRequests = 10
	}
	if cnf.Remote.CBRecoveryTime <= 0 {
		cnf.Remote.CBRecoveryTime = time.Minute
	}
	if cnf.Remote.CBSamplingDuration <= 0 {
		cnf.Remote.CBSamplingDuration = time.Minute
	}
	if cnf.Remote.CBHalfOpenMaxSuccess <= 0 {
		cnf.Remote.CBHalfOpenMaxSuccess = 3
	}
}

func (cnf *Configuration) setAgentDefaults() {
	if cnf.Agent.Port == "" {
		cnf.Agent.Port = DEFAULT_AGENT_PORT
	}
	if cnf.Agent.CachePrefix == "" {
		cnf.Agent.CachePrefix = DefaultCachePrefix
	}
	if cnf.Agent.CacheVersion == "" {
		cnf.Agent.CacheVersion = DefaultCacheVersion
	}
	if cnf.Agent.OfflinePage == "" {
		cnf.Agent.OfflinePage = DefaultOfflinePage
	}
	if cnf.Agent.SyncTag == "" {
		cnf.Agent.SyncTag = DefaultSyncTag
	}
	if len(cnf.Agent.Precache) == 0 {
		cnf.Agent.Precache = []string{"/", "/index.html", "/manifest.json", cnf.Agent.OfflinePage}
	}
	cnf.Agent.SensitivePatterns = mergePatterns(DefaultSensitivePatterns, cnf.Agent.SensitivePatterns)
}

// mergePatterns returns base followed by the extra patterns it does not already hold.
func mergePatterns(base, extra []string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			merged = append(merged, p)
		}
	}
	return merged
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

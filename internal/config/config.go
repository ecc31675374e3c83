package config

import "time"

// Config is the root configuration for TeleClaude.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Stall         StallConfig         `yaml:"stall"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Channels      ChannelsConfig      `yaml:"channels"`
	People        map[string]Person   `yaml:"people"`
	Tunnel        TunnelConfig        `yaml:"tunnel"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StallConfig holds the inactivity thresholds. Both are operator-tunable;
// first_threshold must be shorter than stalled_threshold.
type StallConfig struct {
	FirstThreshold   time.Duration `yaml:"first_threshold"`
	StalledThreshold time.Duration `yaml:"stalled_threshold"`
}

type NotificationsConfig struct {
	WorkerInterval time.Duration `yaml:"worker_interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	ResultsDir     string        `yaml:"results_dir"`
}

type ChannelsConfig struct {
	Webhook WebhookChannelConfig `yaml:"webhook"`
	WebPush WebPushChannelConfig `yaml:"webpush"`
}

type WebhookChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

type WebPushChannelConfig struct {
	Enabled         bool   `yaml:"enabled"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"` // mailto: contact for push services
}

// Person is one configured human: a role, a default contact point, and
// zero or more subscriptions. Read-only to the daemon.
type Person struct {
	Role          string         `yaml:"role"` // admin | member
	Contact       Contact        `yaml:"contact"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Contact is the fallback delivery target for a person, used when a
// notification is not tied to a specific subscription (system/admin
// notifications).
type Contact struct {
	PreferredChannel string `yaml:"preferred_channel"`
	Address          string `yaml:"address"`
}

// Subscription types. An omitted type means a job subscription.
const (
	SubscriptionTypeJob  = "job"
	SubscriptionTypeFeed = "feed"
)

// Subscription ties a person to one unit of work. Disabled subscriptions
// are invisible to discovery and delivery; they are filtered at read
// time, never deleted.
type Subscription struct {
	Type         string             `yaml:"type"` // job | feed
	Job          string             `yaml:"job"`  // unit-of-work name
	Enabled      bool               `yaml:"enabled"`
	Notification NotificationTarget `yaml:"notification"`
}

type NotificationTarget struct {
	PreferredChannel string `yaml:"preferred_channel"`
	Address          string `yaml:"address"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8471,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path: "~/.config/teleclaude/teleclaude.db",
		},
		Stall: StallConfig{
			FirstThreshold:   5 * time.Minute,
			StalledThreshold: 15 * time.Minute,
		},
		Notifications: NotificationsConfig{
			WorkerInterval: 5 * time.Second,
			BatchSize:      20,
			MaxRetries:     5,
			RetryBackoff:   30 * time.Second,
			RatePerSecond:  5,
			ResultsDir:     "~/.config/teleclaude/results",
		},
	}
}

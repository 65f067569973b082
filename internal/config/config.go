// Package config provides YAML-based configuration loading for Chatmancer.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Deployment modes. They decide how the backend address is derived.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// DevAPIPrefix is the path under which the backend is mounted in
// development mode.
const DevAPIPrefix = "/api"

// Environment variables that override secrets in the file.
const (
	EnvMode          = "CHATMANCER_MODE"
	EnvSlackToken    = "SLACK_BOT_TOKEN"
	EnvDiscordToken  = "DISCORD_BOT_TOKEN"
	EnvMySQLPassword = "CHATMANCER_MYSQL_PASSWORD"
	EnvImageBaseURL  = "CHATMANCER_IMAGE_BASE_URL"
)

// Config is the top-level Chatmancer configuration, loaded from
// chatmancer.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Notify  NotifyConfig  `yaml:"notify"`
	Backend BackendConfig `yaml:"backend"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	Mode    string        `yaml:"mode"`
	BaseURL string        `yaml:"base_url"` // used verbatim in production
	DevHost string        `yaml:"dev_host"` // prefixed to /api in development
	Timeout time.Duration `yaml:"timeout"`
}

// ClientConfig holds chat session settings.
type ClientConfig struct {
	Name          string    `yaml:"name"`
	DraftPolicy   string    `yaml:"draft_policy"`
	MaxAttachment SizeBytes `yaml:"max_attachment"`
	Extensions    []string  `yaml:"extensions"`
}

// NotifyConfig selects notification sinks besides the terminal.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
	Command string        `yaml:"command"` // shell template, e.g. notify-send Chatmancer {{.Message}}
}

// ChannelConfig addresses one chat-platform channel.
type ChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the channel is configured.
func (c ChannelConfig) Enabled() bool {
	return c.ChannelID != ""
}

// BackendConfig configures the reference backend served by `chatmancer serve`.
type BackendConfig struct {
	Listen        string         `yaml:"listen"`
	Database      DatabaseConfig `yaml:"database"`
	UploadDir     string         `yaml:"upload_dir"`
	MaxUpload     SizeBytes      `yaml:"max_upload"`
	ContextTTL    time.Duration  `yaml:"context_ttl"`
	SweepSchedule string         `yaml:"sweep_schedule"`
	Rate          RateConfig     `yaml:"rate"`
	ImageBaseURL  string         `yaml:"image_base_url"`
}

// DatabaseConfig selects the backend store.
type DatabaseConfig struct {
	Driver string      `yaml:"driver"` // sqlite or mysql
	Path   string      `yaml:"path"`   // sqlite file
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for a MySQL server.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RateConfig limits requests per client address.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SizeBytes is a byte count written as "250MiB", "64MB" or a plain integer.
type SizeBytes int64

// UnmarshalYAML parses humanized sizes.
func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

// String formats the size for display.
func (s SizeBytes) String() string {
	return humanize.IBytes(uint64(s))
}

// Load reads a YAML config file from path and returns a validated Config.
// Variables from a .env file next to the working directory are loaded first
// so secrets can stay out of the YAML.
func Load(path string) (*Config, error) {
	if err := LoadEnv(".env"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadEnv loads variables from a dotenv file. A missing file is not an
// error; variables already set in the environment win.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

// applyEnv overlays secrets and the mode from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvMode); v != "" {
		c.Server.Mode = v
	}
	if v := os.Getenv(EnvSlackToken); v != "" {
		c.Notify.Slack.BotToken = v
	}
	if v := os.Getenv(EnvDiscordToken); v != "" {
		c.Notify.Discord.BotToken = v
	}
	if v := os.Getenv(EnvMySQLPassword); v != "" {
		c.Backend.Database.MySQL.Password = v
	}
	if v := os.Getenv(EnvImageBaseURL); v != "" {
		c.Backend.ImageBaseURL = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Mode == "" {
		c.Server.Mode = ModeDevelopment
	}
	if c.Server.DevHost == "" {
		c.Server.DevHost = "http://localhost:8000"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 2 * time.Minute
	}
	if c.Client.DraftPolicy == "" {
		c.Client.DraftPolicy = "clear"
	}
	if c.Client.MaxAttachment == 0 {
		c.Client.MaxAttachment = 250 * humanize.MiByte
	}
	if len(c.Client.Extensions) == 0 {
		c.Client.Extensions = []string{".pdf"}
	}
	for i, ext := range c.Client.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Client.Extensions[i] = ext
	}

	b := &c.Backend
	if b.Listen == "" {
		b.Listen = ":8000"
	}
	if b.Database.Driver == "" {
		b.Database.Driver = "sqlite"
	}
	if b.Database.Path == "" {
		b.Database.Path = "chatmancer.db"
	}
	if b.Database.MySQL.Host == "" {
		b.Database.MySQL.Host = "127.0.0.1"
	}
	if b.Database.MySQL.Port == 0 {
		b.Database.MySQL.Port = 3306
	}
	if b.Database.MySQL.User == "" {
		b.Database.MySQL.User = "root"
	}
	if b.Database.MySQL.Database == "" {
		b.Database.MySQL.Database = "chatmancer"
	}
	if b.UploadDir == "" {
		b.UploadDir = "uploads"
	}
	if b.MaxUpload == 0 {
		b.MaxUpload = c.Client.MaxAttachment
	}
	if b.ContextTTL == 0 {
		b.ContextTTL = 24 * time.Hour
	}
	if b.SweepSchedule == "" {
		b.SweepSchedule = "*/15 * * * *"
	}
	if b.Rate.RPS == 0 {
		b.Rate.RPS = 5
	}
	if b.Rate.Burst == 0 {
		b.Rate.Burst = 10
	}
	if b.ImageBaseURL == "" {
		b.ImageBaseURL = "https://images.chatmancer.local"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Server.Mode {
	case ModeDevelopment:
	case ModeProduction:
		if c.Server.BaseURL == "" {
			errs = append(errs, "server.base_url is required in production mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("server.mode %q must be %s or %s", c.Server.Mode, ModeDevelopment, ModeProduction))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, "server.timeout must not be negative")
	}
	switch c.Client.DraftPolicy {
	case "clear", "keep_on_error":
	default:
		errs = append(errs, fmt.Sprintf("client.draft_policy %q must be clear or keep_on_error", c.Client.DraftPolicy))
	}
	if c.Client.MaxAttachment < 0 {
		errs = append(errs, "client.max_attachment must not be negative")
	}
	if c.Notify.Slack.Enabled() && c.Notify.Slack.BotToken == "" {
		errs = append(errs, "notify.slack.bot_token is required when channel_id is set (or set "+EnvSlackToken+")")
	}
	if c.Notify.Discord.Enabled() && c.Notify.Discord.BotToken == "" {
		errs = append(errs, "notify.discord.bot_token is required when channel_id is set (or set "+EnvDiscordToken+")")
	}
	switch c.Backend.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("backend.database.driver %q must be sqlite or mysql", c.Backend.Database.Driver))
	}
	if c.Backend.ContextTTL < 0 {
		errs = append(errs, "backend.context_ttl must not be negative")
	}
	if c.Backend.Rate.RPS < 0 || c.Backend.Rate.Burst < 0 {
		errs = append(errs, "backend.rate values must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Endpoint returns the base URL the client talks to. Development mode
// mounts the backend under DevAPIPrefix on the dev host; production uses
// base_url verbatim.
func (s ServerConfig) Endpoint() string {
	if s.Mode == ModeProduction {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return strings.TrimRight(s.DevHost, "/") + DevAPIPrefix
}

// RoutePrefix returns the path prefix the backend mounts its routes under.
func (s ServerConfig) RoutePrefix() string {
	if s.Mode == ModeProduction {
		return ""
	}
	return DevAPIPrefix
}

// DSN returns the gorm dialector argument for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "mysql" {
		mc := mysql.NewConfig()
		mc.User = d.MySQL.User
		mc.Passwd = d.MySQL.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.MySQL.Host, strconv.Itoa(d.MySQL.Port))
		mc.DBName = d.MySQL.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	return d.Path
}

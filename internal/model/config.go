package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// MailConfig holds the IMAP/SMTP endpoints for the agent's mailbox.
type MailConfig struct {
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password is an inline fallback for test setups; production deployments
	// keep the password in the system keyring instead.
	Password string `mapstructure:"password" yaml:"password"`
	UseTLS   bool   `mapstructure:"use_tls" yaml:"use_tls"`
}

// AgentConfig holds the identity announced in every outbound envelope.
type AgentConfig struct {
	AgentID     string `mapstructure:"agent_id" yaml:"agent_id"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
	Address     string `mapstructure:"address" yaml:"address"`
	Timezone    string `mapstructure:"timezone" yaml:"timezone"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Agent           AgentConfig           `mapstructure:"agent" yaml:"agent"`
	Mail            MailConfig            `mapstructure:"mail" yaml:"mail"`
	Preferences     SchedulingPreferences `mapstructure:"preferences" yaml:"preferences"`
	PollIntervalSec int                   `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	StateDir        string                `mapstructure:"state_dir" yaml:"state_dir"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/cosched/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "cosched", "config.yaml")
}

// DefaultStateDir returns where the dedup set, context file, and archive
// database live when the config does not override it.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "state")
	}
	return filepath.Join(home, ".local", "share", "cosched")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Agent: AgentConfig{
			Timezone: "UTC",
		},
		Mail: MailConfig{
			IMAPPort: "993",
			SMTPPort: "465",
			UseTLS:   true,
		},
		Preferences:     DefaultPreferences(),
		PollIntervalSec: 120,
		StateDir:        DefaultStateDir(),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("agent.timezone", "UTC")
	v.SetDefault("mail.imap_port", "993")
	v.SetDefault("mail.smtp_port", "465")
	v.SetDefault("mail.use_tls", true)
	v.SetDefault("preferences.preferred_meeting_times", []string{"morning", "afternoon"})
	v.SetDefault("preferences.max_meetings_per_day", 6)
	v.SetDefault("preferences.min_meeting_gap_minutes", 15)
	v.SetDefault("preferences.focus_time_protection", true)
	v.SetDefault("preferences.negotiation_style", string(StyleCollaborative))
	v.SetDefault("preferences.response_time_preference", "within_hours")
	v.SetDefault("poll_interval_sec", 120)
	v.SetDefault("state_dir", DefaultStateDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Identity builds the process-wide agent identity from the config.
func (c *AppConfig) Identity() (AgentIdentity, error) {
	address := c.Agent.Address
	if address == "" {
		address = c.Mail.Username
	}
	agentID := c.Agent.AgentID
	if agentID == "" {
		if i := strings.IndexByte(address, '@'); i > 0 {
			agentID = address[:i] + "-agent"
		}
	}
	return NewAgentIdentity(agentID, c.Agent.DisplayName, address, c.Agent.Timezone)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("agent", cfg.Agent)
	v.Set("mail", cfg.Mail)
	v.Set("preferences", cfg.Preferences)
	v.Set("poll_interval_sec", cfg.PollIntervalSec)
	v.Set("state_dir", cfg.StateDir)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

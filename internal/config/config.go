package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"worldroll.ai/internal/order"
	"worldroll.ai/internal/protocol"
)

type Config struct {
	Host          string   `yaml:"host" env:"WORLDROLL_HOST"`
	WSURL         string   `yaml:"ws_url" env:"WORLDROLL_WS_URL"`
	Sessions      []string `yaml:"sessions" env:"WORLDROLL_SESSIONS" envSeparator:","`
	SessionCookie string   `yaml:"session_cookie"`
	UserAgent     string   `yaml:"user_agent"`

	Catalog      string `yaml:"catalog" env:"WORLDROLL_CATALOG"`
	AliasDir     string `yaml:"alias_dir" env:"WORLDROLL_ALIAS_DIR"`
	AliasDB      string `yaml:"alias_db" env:"WORLDROLL_ALIAS_DB"`
	JournalDir   string `yaml:"journal_dir" env:"WORLDROLL_JOURNAL_DIR"`
	OTelEndpoint string `yaml:"otel_endpoint" env:"WORLDROLL_OTEL_ENDPOINT"`

	Order string `yaml:"order"`
	Mode  string `yaml:"mode"`

	HTTP     HTTPConfig       `yaml:"http"`
	Roll     RollConfig       `yaml:"roll"`
	Conquest ConquestConfig   `yaml:"conquest"`
	Markers  protocol.Markers `yaml:"markers"`
}

type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxTries        uint          `yaml:"max_tries"`
	MaxAuthAttempts int           `yaml:"max_auth_attempts"`
}

type RollConfig struct {
	Interval             time.Duration `yaml:"interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectFailures int           `yaml:"max_reconnect_failures"`
}

type ConquestConfig struct {
	AttemptBudget  int  `yaml:"attempt_budget"`
	MaxLevel       int  `yaml:"max_level"`
	OwnedBonus     int  `yaml:"owned_bonus"`
	AllowMates     bool `yaml:"allow_mates"`
	KeepOnCapturer bool `yaml:"keep_on_capturer"`
}

// Load reads path (optional), applies environment overrides and validates
// the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config.yaml: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config.yaml: parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Host:          "https://worldroulette.ru/",
		SessionCookie: "session",
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/53.0.2763.0 Safari/537.36",
		Catalog:       "configs/catalog.json",
		AliasDir:      "aliases",
		Order:         order.Near.String(),
		Mode:          "both",
		HTTP: HTTPConfig{
			Timeout:         3 * time.Second,
			MaxTries:        5,
			MaxAuthAttempts: 10,
		},
		Roll: RollConfig{
			Interval:             1100 * time.Millisecond,
			ReconnectDelay:       time.Second,
			MaxReconnectFailures: 5,
		},
		Conquest: ConquestConfig{
			AttemptBudget: 40,
			MaxLevel:      3,
			OwnedBonus:    order.DefaultOwnedBonus,
		},
		Markers: protocol.DefaultMarkers(),
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	d := defaults()
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = d.Host
	}
	if !strings.HasSuffix(c.Host, "/") {
		c.Host += "/"
	}
	c.WSURL = strings.TrimSpace(c.WSURL)
	if c.WSURL == "" {
		c.WSURL = deriveWSURL(c.Host)
	}

	sessions := c.Sessions[:0]
	for _, s := range c.Sessions {
		if s = strings.TrimSpace(s); s != "" {
			sessions = append(sessions, s)
		}
	}
	c.Sessions = sessions
	c.AliasDB = strings.TrimSpace(c.AliasDB)
	// An empty journal_dir disables the roll journal.
	c.JournalDir = strings.TrimSpace(c.JournalDir)

	if strings.TrimSpace(c.SessionCookie) == "" {
		c.SessionCookie = d.SessionCookie
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = d.UserAgent
	}
	c.Order = strings.ToLower(strings.TrimSpace(c.Order))
	if c.Order == "" {
		c.Order = d.Order
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = d.Mode
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = d.HTTP.Timeout
	}
	if c.HTTP.MaxTries == 0 {
		c.HTTP.MaxTries = d.HTTP.MaxTries
	}
	if c.HTTP.MaxAuthAttempts <= 0 {
		c.HTTP.MaxAuthAttempts = d.HTTP.MaxAuthAttempts
	}
	if c.Roll.Interval <= 0 {
		c.Roll.Interval = d.Roll.Interval
	}
	if c.Roll.ReconnectDelay < 0 {
		c.Roll.ReconnectDelay = 0
	}
	if c.Roll.MaxReconnectFailures <= 0 {
		c.Roll.MaxReconnectFailures = d.Roll.MaxReconnectFailures
	}
	if c.Conquest.AttemptBudget <= 0 {
		c.Conquest.AttemptBudget = d.Conquest.AttemptBudget
	}
	if c.Conquest.MaxLevel <= 0 {
		c.Conquest.MaxLevel = d.Conquest.MaxLevel
	}

	m := &c.Markers
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&m.PleaseWait, d.Markers.PleaseWait)
	fill(&m.NotAuthorized, d.Markers.NotAuthorized)
	fill(&m.Captured, d.Markers.Captured)
	fill(&m.LevelMaxed, d.Markers.LevelMaxed)
	fill(&m.Transferred, d.Markers.Transferred)
	fill(&m.NoSuchPlayer, d.Markers.NoSuchPlayer)
}

// deriveWSURL maps http(s)://host/ to ws(s)://host/ws.
func deriveWSURL(host string) string {
	u, err := url.Parse(host)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("host %q must be an http(s) url", c.Host)
	}
	w, err := url.Parse(c.WSURL)
	if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") || w.Host == "" {
		return fmt.Errorf("ws_url %q must be a ws(s) url", c.WSURL)
	}
	if len(c.Sessions) == 0 {
		return errors.New("at least one session is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Sessions {
		if seen[s] {
			return fmt.Errorf("duplicate session %q", s)
		}
		seen[s] = true
	}
	if strings.TrimSpace(c.Catalog) == "" {
		return errors.New("catalog path is required")
	}
	if _, err := order.ParseMode(c.Order); err != nil {
		return err
	}
	switch c.Mode {
	case "capture", "c", "upgrade", "e", "both", "a":
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Conquest.MaxLevel > 9 {
		return fmt.Errorf("conquest.max_level %d out of range (1..9)", c.Conquest.MaxLevel)
	}
	if c.Roll.Interval < 100*time.Millisecond {
		return fmt.Errorf("roll.interval %s below 100ms", c.Roll.Interval)
	}
	return nil
}

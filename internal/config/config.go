package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.decode(raw)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.decode(raw)
}

func (d *Duration) decode(raw any) error {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	case int64:
		*d = Duration(v)
		return nil
	case float64:
		*d = Duration(int64(v))
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", raw)
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	LogFormat     string              `json:"log_format" yaml:"log_format"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Pipeline      PipelineConfig      `json:"pipeline" yaml:"pipeline"`
	Overspeed     OverspeedConfig     `json:"overspeed" yaml:"overspeed"`
	Radar         RadarConfig         `json:"radar" yaml:"radar"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Senders       SendersConfig       `json:"senders" yaml:"senders"`
	Forward       ForwardConfig       `json:"forward" yaml:"forward"`
	Summary       SummaryConfig       `json:"summary" yaml:"summary"`
	Dedupe        DedupeConfig        `json:"dedupe" yaml:"dedupe"`
	API           APIConfig           `json:"api" yaml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Events        EventsConfig        `json:"events" yaml:"events"`
	Stats         StatsConfig         `json:"stats" yaml:"stats"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type PipelineConfig struct {
	Workers       int      `json:"workers" yaml:"workers"`
	MaxPastSkew   Duration `json:"max_past_skew" yaml:"max_past_skew"`
	MaxFutureSkew Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

type OverspeedConfig struct {
	SpeedLimit      float64  `json:"speed_limit" yaml:"speed_limit"`
	MinimalDuration Duration `json:"minimal_duration" yaml:"minimal_duration"`
	Multiplier      float64  `json:"multiplier" yaml:"multiplier"`
	PreferLowest    bool     `json:"prefer_lowest" yaml:"prefer_lowest"`
	RadarCooldown   Duration `json:"radar_cooldown" yaml:"radar_cooldown"`
}

type RadarConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	File           string   `json:"file" yaml:"file"`
	OverrideFile   string   `json:"override_file" yaml:"override_file"`
	RadiusMeters   float64  `json:"radius_meters" yaml:"radius_meters"`
	MinSpeedKph    float64  `json:"min_speed_kph" yaml:"min_speed_kph"`
	MaxSpeedKph    float64  `json:"max_speed_kph" yaml:"max_speed_kph"`
	ReloadInterval Duration `json:"reload_interval" yaml:"reload_interval"`
}

type NotificationsConfig struct {
	TimeThreshold     Duration `json:"time_threshold" yaml:"time_threshold"`
	BlockedUsers      []int64  `json:"blocked_users" yaml:"blocked_users"`
	ProvisionDefaults bool     `json:"provision_defaults" yaml:"provision_defaults"`
}

type SendersConfig struct {
	Push PushSenderConfig `json:"push" yaml:"push"`
	Mail MailSenderConfig `json:"mail" yaml:"mail"`
	SMS  SMSSenderConfig  `json:"sms" yaml:"sms"`
}

type PushSenderConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
}

type MailSenderConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	From     string `json:"from" yaml:"from"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type SMSSenderConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
}

type ForwardConfig struct {
	Enabled bool               `json:"enabled" yaml:"enabled"`
	Kind    string             `json:"kind" yaml:"kind"`
	Timeout Duration           `json:"timeout" yaml:"timeout"`
	Kafka   ForwardKafkaConfig `json:"kafka" yaml:"kafka"`
	Redis   ForwardRedisConfig `json:"redis" yaml:"redis"`
	NATS    ForwardNATSConfig  `json:"nats" yaml:"nats"`
	HTTP    ForwardHTTPConfig  `json:"http" yaml:"http"`
}

type ForwardKafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type ForwardRedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

type ForwardNATSConfig struct {
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type ForwardHTTPConfig struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token" yaml:"token"`
}

type SummaryConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ServerTimezone string `json:"server_timezone" yaml:"server_timezone"`
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	WebhookToken   string `json:"webhook_token" yaml:"webhook_token"`
}

type DedupeConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Interval Duration `json:"interval" yaml:"interval"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type StatsConfig struct {
	PersistInterval Duration `json:"persist_interval" yaml:"persist_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Pipeline: PipelineConfig{
			Workers:       4,
			MaxPastSkew:   Duration(30 * 24 * time.Hour),
			MaxFutureSkew: Duration(time.Minute),
		},
		Overspeed: OverspeedConfig{
			SpeedLimit:      0,
			MinimalDuration: 0,
			Multiplier:      1.0,
			PreferLowest:    false,
			RadarCooldown:   0,
		},
		Radar: RadarConfig{
			Enabled:        false,
			RadiusMeters:   50,
			MinSpeedKph:    0,
			MaxSpeedKph:    300,
			ReloadInterval: Duration(time.Minute),
		},
		Notifications: NotificationsConfig{
			TimeThreshold:     Duration(10 * time.Minute),
			ProvisionDefaults: true,
		},
		Forward: ForwardConfig{Enabled: false, Timeout: Duration(10 * time.Second)},
		Summary: SummaryConfig{Enabled: true},
		Dedupe:  DedupeConfig{Enabled: true, Interval: Duration(24 * time.Hour)},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: true, Driver: "sqlite", DSN: "file:fleetguard.db?_pragma=busy_timeout(5000)"},
		Events:  EventsConfig{StoreLimit: 1000},
		Stats:   StatsConfig{PersistInterval: Duration(time.Minute)},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.MaxPastSkew <= 0 {
		cfg.Pipeline.MaxPastSkew = Duration(30 * 24 * time.Hour)
	}
	if cfg.Pipeline.MaxFutureSkew <= 0 {
		cfg.Pipeline.MaxFutureSkew = Duration(time.Minute)
	}
	if cfg.Overspeed.Multiplier <= 0 {
		cfg.Overspeed.Multiplier = 1.0
	}
	if cfg.Radar.MaxSpeedKph <= 0 {
		cfg.Radar.MaxSpeedKph = 300
	}
	if cfg.Notifications.TimeThreshold <= 0 {
		cfg.Notifications.TimeThreshold = Duration(10 * time.Minute)
	}
	if cfg.Forward.Timeout <= 0 {
		cfg.Forward.Timeout = Duration(10 * time.Second)
	}
	if cfg.Dedupe.Interval <= 0 {
		cfg.Dedupe.Interval = Duration(24 * time.Hour)
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.Stats.PersistInterval <= 0 {
		cfg.Stats.PersistInterval = Duration(time.Minute)
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Radar.Enabled && cfg.Radar.File == "" {
		return errors.New("radar.file required when radar.enabled is true")
	}
	if cfg.Overspeed.SpeedLimit < 0 {
		return errors.New("overspeed.speed_limit must not be negative")
	}
	if cfg.Senders.Push.Enabled && cfg.Senders.Push.URL == "" {
		return errors.New("senders.push.url required when senders.push.enabled is true")
	}
	if cfg.Senders.Mail.Enabled && (cfg.Senders.Mail.Host == "" || cfg.Senders.Mail.Port <= 0 || cfg.Senders.Mail.From == "") {
		return errors.New("senders.mail requires host, port, from")
	}
	if cfg.Senders.SMS.Enabled && cfg.Senders.SMS.URL == "" {
		return errors.New("senders.sms.url required when senders.sms.enabled is true")
	}
	if cfg.Forward.Enabled {
		switch strings.ToLower(cfg.Forward.Kind) {
		case "kafka":
			if len(cfg.Forward.Kafka.Brokers) == 0 || cfg.Forward.Kafka.Topic == "" {
				return errors.New("forward.kafka requires brokers, topic")
			}
		case "redis":
			if cfg.Forward.Redis.Addr == "" || cfg.Forward.Redis.Channel == "" {
				return errors.New("forward.redis requires addr, channel")
			}
		case "nats":
			if cfg.Forward.NATS.URL == "" || cfg.Forward.NATS.Subject == "" {
				return errors.New("forward.nats requires url, subject")
			}
		case "http":
			if cfg.Forward.HTTP.URL == "" {
				return errors.New("forward.http requires url")
			}
		default:
			return fmt.Errorf("forward.kind unsupported: %q", cfg.Forward.Kind)
		}
	}
	if cfg.Summary.Enabled && cfg.Summary.ServerTimezone != "" {
		if _, err := time.LoadLocation(cfg.Summary.ServerTimezone); err != nil {
			return fmt.Errorf("summary.server_timezone invalid: %w", err)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

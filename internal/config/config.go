package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultServerURL      = "http://localhost:8081"
	DefaultAPIPrefix      = "/api"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultPollInterval   = 2 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	minPollInterval = 100 * time.Millisecond
	appDir          = "livecall"
)

// Environment variables, second in precedence after CLI flags.
const (
	EnvConfigPath       = "LIVECALL_CONFIG"
	EnvServerURL        = "LIVECALL_SERVER_URL"
	EnvAPIPrefix        = "LIVECALL_API_PREFIX"
	EnvToken            = "LIVECALL_TOKEN"
	EnvTokenFile        = "LIVECALL_TOKEN_FILE"
	EnvSTUNServer       = "STUN_SERVER"
	EnvTURNServer       = "TURN_SERVER"
	EnvTURNUser         = "TURN_USERNAME"
	EnvTURNPass         = "TURN_PASSWORD"
	EnvForceRelay       = "LIVECALL_FORCE_RELAY"
	EnvPollInterval     = "LIVECALL_POLL_INTERVAL"
	EnvRequestTimeout   = "LIVECALL_REQUEST_TIMEOUT"
	EnvICEFeed          = "LIVECALL_ICE_FEED"
	EnvNotifyDisconnect = "LIVECALL_NOTIFY_DISCONNECT"
	EnvRecordDir        = "LIVECALL_RECORD_DIR"
	EnvStatePath        = "LIVECALL_STATE_PATH"
)

// Config holds application configuration
type Config struct {
	// ServerURL is the signaling server root
	ServerURL string

	// APIPrefix is "" for the ngrok deployment, "/api" for the backend
	APIPrefix string

	// Bearer token, inline or read from a file on every request
	Token     string
	TokenFile string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	PollInterval   time.Duration
	RequestTimeout time.Duration

	// ICEFeed also exchanges candidates over the server's /ws broadcast relay
	ICEFeed bool

	// NotifyDisconnect posts /disconnect when leaving a room
	NotifyDisconnect bool

	// RecordDir, when set, records remote streams to IVF/Ogg files
	RecordDir string

	// Local media files; both empty means idle tracks
	VideoFile string
	AudioFile string

	// StatePath is where the last created room is remembered
	StatePath string
}

// Options for loading config with CLI flag overrides. Empty strings and
// zero durations mean "not set"; booleans can only switch a feature on.
type Options struct {
	ConfigPath string

	ServerURL  string
	APIPrefix  *string
	Token      string
	TokenFile  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	PollInterval   time.Duration
	RequestTimeout time.Duration

	ICEFeed          bool
	NotifyDisconnect bool
	RecordDir        string
	VideoFile        string
	AudioFile        string
	StatePath        string
}

// fileConfig is the YAML shape of config.yaml.
type fileConfig struct {
	ServerURL        string  `yaml:"server_url"`
	APIPrefix        *string `yaml:"api_prefix"`
	Token            string  `yaml:"token"`
	TokenFile        string  `yaml:"token_file"`
	STUNServer       string  `yaml:"stun_server"`
	TURNServer       string  `yaml:"turn_server"`
	TURNUser         string  `yaml:"turn_user"`
	TURNPass         string  `yaml:"turn_pass"`
	ForceRelay       bool    `yaml:"force_relay"`
	PollInterval     string  `yaml:"poll_interval"`
	RequestTimeout   string  `yaml:"request_timeout"`
	ICEFeed          bool    `yaml:"ice_feed"`
	NotifyDisconnect bool    `yaml:"notify_disconnect"`
	RecordDir        string  `yaml:"record_dir"`
	VideoFile        string  `yaml:"video_file"`
	AudioFile        string  `yaml:"audio_file"`
	StatePath        string  `yaml:"state_path"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (YAML)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path := first(opts.ConfigPath, os.Getenv(EnvConfigPath))
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath()
	}

	file, err := readFile(path, explicit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerURL:  first(opts.ServerURL, os.Getenv(EnvServerURL), file.ServerURL, DefaultServerURL),
		Token:      first(opts.Token, os.Getenv(EnvToken), file.Token),
		TokenFile:  first(opts.TokenFile, os.Getenv(EnvTokenFile), file.TokenFile),
		STUNServer: first(opts.STUNServer, os.Getenv(EnvSTUNServer), file.STUNServer, DefaultSTUN),
		TURNServer: first(opts.TURNServer, os.Getenv(EnvTURNServer), file.TURNServer),
		TURNUser:   first(opts.TURNUser, os.Getenv(EnvTURNUser), file.TURNUser),
		TURNPass:   first(opts.TURNPass, os.Getenv(EnvTURNPass), file.TURNPass),
		RecordDir:  first(opts.RecordDir, os.Getenv(EnvRecordDir), file.RecordDir),
		VideoFile:  first(opts.VideoFile, file.VideoFile),
		AudioFile:  first(opts.AudioFile, file.AudioFile),
		StatePath:  first(opts.StatePath, os.Getenv(EnvStatePath), file.StatePath, DefaultStatePath()),
	}

	// The prefix may legitimately be empty, so "set" is tracked separately.
	switch {
	case opts.APIPrefix != nil:
		cfg.APIPrefix = *opts.APIPrefix
	case hasEnv(EnvAPIPrefix):
		cfg.APIPrefix = os.Getenv(EnvAPIPrefix)
	case file.APIPrefix != nil:
		cfg.APIPrefix = *file.APIPrefix
	default:
		cfg.APIPrefix = DefaultAPIPrefix
	}

	if cfg.ForceRelay, err = anyBool(opts.ForceRelay, EnvForceRelay, file.ForceRelay); err != nil {
		return nil, err
	}
	if cfg.ICEFeed, err = anyBool(opts.ICEFeed, EnvICEFeed, file.ICEFeed); err != nil {
		return nil, err
	}
	if cfg.NotifyDisconnect, err = anyBool(opts.NotifyDisconnect, EnvNotifyDisconnect, file.NotifyDisconnect); err != nil {
		return nil, err
	}

	if cfg.PollInterval, err = duration(opts.PollInterval, EnvPollInterval, file.PollInterval, DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = duration(opts.RequestTimeout, EnvRequestTimeout, file.RequestTimeout, DefaultRequestTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a call.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", c.ServerURL)
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll interval %s is below the minimum of %s", c.PollInterval, minPollInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. A bare host
// expands to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// DefaultConfigPath is $XDG_CONFIG_HOME/livecall/config.yaml or the OS
// equivalent.
func DefaultConfigPath() string {
	return filepath.Join(userConfigDir(), appDir, "config.yaml")
}

// DefaultStatePath is where the last created room id is kept.
func DefaultStatePath() string {
	return filepath.Join(userConfigDir(), appDir, "state.msgpack")
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}

// readFile parses path. A missing default file is not an error; a missing
// file the user asked for is.
func readFile(path string, explicit bool) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return fc, nil
		}
		return fc, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func hasEnv(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func anyBool(flag bool, env string, file bool) (bool, error) {
	if flag {
		return true, nil
	}
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", env, err)
		}
		return b, nil
	}
	return file, nil
}

func duration(flag time.Duration, env, file string, def time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", env, err)
		}
		return d, nil
	}
	if file != "" {
		d, err := time.ParseDuration(file)
		if err != nil {
			return 0, fmt.Errorf("invalid poll or timeout duration %q in config file: %w", file, err)
		}
		return d, nil
	}
	return def, nil
}

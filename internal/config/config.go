// Package config loads and hot-reloads the relay's YAML configuration:
// the global daemon settings, the repository table, the IRC network
// table, and the channel subscriptions that wire them together
// (spec.md §3, §6).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

func init() {
	// Best-effort: a missing .env is normal outside local dev.
	_ = godotenv.Load()
}

// Config is the full, parsed relay configuration.
type Config struct {
	Global       GlobalConfig                `yaml:"global"`
	Repositories map[string]RepositoryConfig `yaml:"repositories"`
	Networks     map[string]NetworkConfig    `yaml:"networks"`
	Channels     map[string]ChannelConfig    `yaml:"channels"` // keyed by ChannelKey(network, channel)

	// reverseIndex maps a repository id to the set of network/channel
	// destinations that should receive its commit notifications. Built
	// by Validate from the Channels lists embedded in RepositoryConfig.
	reverseIndex map[string][]ChannelRef
}

// GlobalConfig holds daemon-wide settings (spec.md §6 "global" section).
type GlobalConfig struct {
	RPCAddr            string   `yaml:"rpc_addr"`
	RPCPort            int      `yaml:"rpc_port"`
	ServiceName        string   `yaml:"service_name"`
	QueueLimit         int      `yaml:"queue_limit"`
	MinProtocolVersion int      `yaml:"min_protocol_version"`
	Admins             []string `yaml:"admins"` // nick!user@host glob masks
	Colors             bool     `yaml:"colors"`
	SmartAnswers       []string `yaml:"smart_answers"` // global fallback pool
	PIDFile            string   `yaml:"pid_file"`
	LogLevel           string   `yaml:"log_level"`
	AdminHTTPAddr      string   `yaml:"admin_http_addr"`
	GRPCHealthAddr     string   `yaml:"grpc_health_addr"`
	AuditDSN           string   `yaml:"audit_dsn"`
	RedisAddr          string   `yaml:"redis_addr"`
	PubSubProjectID    string   `yaml:"pubsub_project_id"`
	PubSubTopicID      string   `yaml:"pubsub_topic_id"`
	PubSubEnabled      bool     `yaml:"pubsub_enabled"`
}

// RepositoryConfig describes one watched repository (spec.md §3 "Repository").
type RepositoryConfig struct {
	Password string       `yaml:"password"` // v0 only; empty == anonymous
	Channels []ChannelRef `yaml:"channels"`
}

// ChannelRef names one IRC destination a repository's commits fan out to.
type ChannelRef struct {
	Network string `yaml:"network"`
	Channel string `yaml:"channel"`
}

// ChannelConfig carries per-channel IRC-session behaviour that isn't tied
// to any one repository (spec.md §3 "Channel config"). Keyed by
// "network\x00channel" in Config.Channels; see ChannelKey.
type ChannelConfig struct {
	SmartAnswers        []string `yaml:"smart_answers"`
	SmartAnswersPolygen bool     `yaml:"smart_answers_polygen"`
}

// ChannelKey builds the composite key ChannelConfig is indexed by.
func ChannelKey(network, channel string) string {
	return network + "\x00" + channel
}

// NetworkConfig describes one IRC network connection (spec.md §5 "Hub").
type NetworkConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	SSL             bool     `yaml:"ssl"`
	Password        string   `yaml:"password"` // server PASS, not NickServ
	Nick            string   `yaml:"nick"`
	AltNick         string   `yaml:"alt_nick"`
	Realname        string   `yaml:"realname"`
	Ident           string   `yaml:"ident"`
	NickservAccount string   `yaml:"nickserv_account"`
	NickservPass    string   `yaml:"nickserv_password"`
	ReconnectMinSec int      `yaml:"reconnect_min_sec"`
	ReconnectMaxSec int      `yaml:"reconnect_max_sec"`
	AdminMasks      []string `yaml:"admin_masks"`
}

// CoreParams returns the fields whose change forces a teardown-and-respawn
// of the session rather than an in-place channel reconcile (spec.md §4.7
// "Dynamic membership").
func (n NetworkConfig) CoreParams() [7]string {
	return [7]string{n.Host, strconv.Itoa(n.Port), n.Nick, n.Realname, n.Ident, n.Password, n.NickservPass}
}

// Load reads and parses a YAML config file, applies environment
// overrides, defaults, and builds the repo->channel reverse index.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	// -1 marks min_protocol_version as absent, so applyDefaults can tell it
	// apart from an explicit 0 (which admits v0 calls).
	cfg := Config{Global: GlobalConfig{MinProtocolVersion: -1}}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces shape invariants and (re)builds the reverse index.
// A repository referencing an undeclared network is a hard config error,
// the daemon should refuse to start or reload on it.
func (c *Config) Validate() error {
	if c.Global.ServiceName == "" {
		return fmt.Errorf("config: global.service_name is mandatory")
	}
	idx := make(map[string][]ChannelRef, len(c.Repositories))
	for repoID, repo := range c.Repositories {
		for _, ch := range repo.Channels {
			if _, ok := c.Networks[ch.Network]; !ok {
				return fmt.Errorf("config: repository %q references undeclared network %q", repoID, ch.Network)
			}
			idx[repoID] = append(idx[repoID], ch)
		}
	}
	c.reverseIndex = idx
	return nil
}

// ChannelsFor returns the fan-out destinations for a repository id.
func (c *Config) ChannelsFor(repoID string) []ChannelRef {
	return c.reverseIndex[repoID]
}

// IsAdmin reports whether mask matches one of the global admin globs, or one
// of network's own admin_masks (spec.md §4.7 "Admin gate").
func (c *Config) IsAdmin(network, mask string) bool {
	for _, m := range c.Global.Admins {
		if GlobMatch(m, mask) {
			return true
		}
	}
	if net, ok := c.Networks[network]; ok {
		for _, m := range net.AdminMasks {
			if GlobMatch(m, mask) {
				return true
			}
		}
	}
	return false
}

// SmartAnswersFor returns the channel-scope smart-answer pool, falling back
// to the global pool when the channel declares none (spec.md §4.7).
func (c *Config) SmartAnswersFor(network, channel string) []string {
	if ch, ok := c.Channels[ChannelKey(network, channel)]; ok && len(ch.SmartAnswers) > 0 {
		return ch.SmartAnswers
	}
	return c.Global.SmartAnswers
}

// PolygenEnabledFor reports whether channel opted into polygen-backed
// smart answers instead of a plain random pick.
func (c *Config) PolygenEnabledFor(network, channel string) bool {
	ch, ok := c.Channels[ChannelKey(network, channel)]
	return ok && ch.SmartAnswersPolygen
}

// ChannelsOnNetwork returns every distinct channel name any repository
// fans out to on network — what the session must JOIN after REGISTERED.
func (c *Config) ChannelsOnNetwork(network string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, refs := range c.reverseIndex {
		for _, ref := range refs {
			if ref.Network != network {
				continue
			}
			if _, dup := seen[ref.Channel]; dup {
				continue
			}
			seen[ref.Channel] = struct{}{}
			out = append(out, ref.Channel)
		}
	}
	return out
}

func (c *Config) applyEnvOverrides() {
	c.Global.RPCAddr = getEnv("KGB_RPC_ADDR", c.Global.RPCAddr)
	if v := getEnvInt("KGB_RPC_PORT", 0); v > 0 {
		c.Global.RPCPort = v
	}
	c.Global.ServiceName = getEnv("KGB_SERVICE_NAME", c.Global.ServiceName)
	if v := getEnvInt("KGB_QUEUE_LIMIT", 0); v > 0 {
		c.Global.QueueLimit = v
	}
	c.Global.AdminHTTPAddr = getEnv("KGB_ADMIN_HTTP_ADDR", c.Global.AdminHTTPAddr)
	c.Global.AuditDSN = getEnv("KGB_AUDIT_DSN", c.Global.AuditDSN)
	c.Global.RedisAddr = getEnv("KGB_REDIS_ADDR", c.Global.RedisAddr)
	c.Global.PubSubProjectID = getEnv("KGB_PUBSUB_PROJECT_ID", c.Global.PubSubProjectID)
	c.Global.PubSubEnabled = getEnvBool("KGB_PUBSUB_ENABLED", c.Global.PubSubEnabled)
	c.Global.LogLevel = getEnv("KGB_LOG_LEVEL", c.Global.LogLevel)
}

func (c *Config) applyDefaults() {
	if c.Global.RPCPort == 0 {
		c.Global.RPCPort = 9418
	}
	if c.Global.ServiceName == "" {
		c.Global.ServiceName = "KGB"
	}
	if c.Global.QueueLimit == 0 {
		c.Global.QueueLimit = 150
	}
	if c.Global.GRPCHealthAddr == "" {
		c.Global.GRPCHealthAddr = ":9419"
	}
	if c.Global.MinProtocolVersion < 0 {
		c.Global.MinProtocolVersion = 1
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	for name, net := range c.Networks {
		if net.ReconnectMinSec == 0 {
			net.ReconnectMinSec = 5
		}
		if net.ReconnectMaxSec == 0 {
			net.ReconnectMaxSec = 300
		}
		if net.Port == 0 {
			net.Port = 6667
		}
		if net.Nick == "" {
			net.Nick = "KGB"
		}
		if net.Ident == "" {
			net.Ident = "kgb"
		}
		if net.Realname == "" {
			net.Realname = "KGB bot"
		}
		c.Networks[name] = net
	}
}

var (
	singleton     *Config
	singletonOnce sync.Once
)

// Get returns the process-wide config singleton, loaded from KGB_CONFIG_PATH
// or "kgb.yaml" on first use. Prefer an explicit Manager for anything that
// needs hot reload; Get exists for code paths (e.g. package init) that can't
// thread a Manager through.
func Get() *Config {
	singletonOnce.Do(func() {
		path := getEnv("KGB_CONFIG_PATH", "kgb.yaml")
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("config: failed to load, using empty defaults", "error", err, "path", path)
			cfg = &Config{Global: GlobalConfig{ServiceName: "kgb", MinProtocolVersion: -1}}
			cfg.applyDefaults()
		}
		singleton = cfg
	})
	return singleton
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

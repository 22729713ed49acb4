// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
)

//go:embed example-config.yaml
var ExampleConfig string

type HomeserverConfig struct {
	Address            string `yaml:"address"`
	Domain             string `yaml:"domain"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	// RequestTimeout is in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

type AppserviceConfig struct {
	Listen               string `yaml:"listen"`
	ASToken              string `yaml:"as_token"`
	HSToken              string `yaml:"hs_token"`
	BotLocalpart         string `yaml:"bot_localpart"`
	GhostPrefix          string `yaml:"ghost_prefix"`
	TransactionCacheSize int    `yaml:"transaction_cache_size"`
	JoinCacheSize        int    `yaml:"join_cache_size"`
}

type XMPPConfig struct {
	Domain           string `yaml:"domain"`
	ComponentName    string `yaml:"component_name"`
	RoomNameTemplate string `yaml:"room_name_template"`
}

// Config holds the bridge configuration. It is immutable once PostProcess
// has returned.
type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	Appservice AppserviceConfig  `yaml:"appservice"`
	XMPP       XMPPConfig        `yaml:"xmpp"`
	Logging    zeroconfig.Config `yaml:"logging"`

	roomNameTemplate *template.Template `yaml:"-"`
}

// RoomNameParams holds the parameters for rendering the room name template.
type RoomNameParams struct {
	Local  string
	Domain string
}

const (
	EnvHomeserverURL = "MATRIX_HOMESERVER_URL"
	EnvASToken       = "MATRIX_AS_TOKEN"
	EnvHSToken       = "MATRIX_HS_TOKEN"
	EnvListen        = "MATRIX_BRIDGE_LISTEN"
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ApplyEnv overrides file values with the MATRIX_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvHomeserverURL); v != "" {
		c.Homeserver.Address = v
	}
	if v := os.Getenv(EnvASToken); v != "" {
		c.Appservice.ASToken = v
	}
	if v := os.Getenv(EnvHSToken); v != "" {
		c.Appservice.HSToken = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Appservice.Listen = v
	}
}

func (c *Config) PostProcess() error {
	if c.Appservice.GhostPrefix == "" {
		c.Appservice.GhostPrefix = DefaultGhostPrefix
	}
	if !strings.HasPrefix(c.Appservice.GhostPrefix, "@") {
		return fmt.Errorf("appservice.ghost_prefix %q must start with '@'", c.Appservice.GhostPrefix)
	}
	if c.XMPP.Domain == "" {
		return errors.New("xmpp.domain is required")
	}
	if c.XMPP.ComponentName == "" {
		c.XMPP.ComponentName = "matrix"
	}
	if c.Appservice.TransactionCacheSize <= 0 {
		c.Appservice.TransactionCacheSize = 1000
	}
	if c.Appservice.JoinCacheSize < 0 {
		c.Appservice.JoinCacheSize = 0
	}
	if c.Homeserver.RequestTimeout <= 0 {
		c.Homeserver.RequestTimeout = int(directory.DefaultTimeout / time.Second)
	}
	if c.XMPP.RoomNameTemplate == "" {
		c.XMPP.RoomNameTemplate = "{{.Local}}"
	}
	var err error
	c.roomNameTemplate, err = template.New("room_name").Parse(c.XMPP.RoomNameTemplate)
	return err
}

// BridgeDomain is the XMPP domain the bridge component serves.
func (c *Config) BridgeDomain() string {
	return c.XMPP.ComponentName + "." + c.XMPP.Domain
}

// BotUserID is the appservice's own Matrix user.
func (c *Config) BotUserID() id.UserID {
	return id.NewUserID(c.Appservice.BotLocalpart, c.Homeserver.Domain)
}

// DirectoryConfig extracts the homeserver client settings.
func (c *Config) DirectoryConfig() directory.Config {
	return directory.Config{
		HomeserverURL:      c.Homeserver.Address,
		AccessToken:        c.Appservice.ASToken,
		InsecureSkipVerify: c.Homeserver.InsecureSkipVerify,
		Timeout:            time.Duration(c.Homeserver.RequestTimeout) * time.Second,
	}
}

// FormatRoomName renders the configured room name for an XMPP group room.
func (c *Config) FormatRoomName(params RoomNameParams) string {
	if c.roomNameTemplate == nil {
		return params.Local
	}
	var sb strings.Builder
	if err := c.roomNameTemplate.Execute(&sb, params); err != nil {
		return params.Local
	}
	return sb.String()
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")
	helper.Copy(up.Bool, "homeserver", "insecure_skip_verify")
	helper.Copy(up.Int, "homeserver", "request_timeout")
	helper.Copy(up.Str, "appservice", "listen")
	helper.Copy(up.Str, "appservice", "as_token")
	helper.Copy(up.Str, "appservice", "hs_token")
	helper.Copy(up.Str, "appservice", "bot_localpart")
	helper.Copy(up.Str, "appservice", "ghost_prefix")
	helper.Copy(up.Int, "appservice", "transaction_cache_size")
	helper.Copy(up.Int, "appservice", "join_cache_size")
	helper.Copy(up.Str, "xmpp", "domain")
	helper.Copy(up.Str, "xmpp", "component_name")
	helper.Copy(up.Str, "xmpp", "room_name_template")
	helper.Copy(up.Map, "logging")
}

// ParseConfig merges data over the example config, so keys missing from data
// keep their example values, then applies environment overrides and
// PostProcess. Empty data yields the example config.
func ParseConfig(data []byte) (*Config, error) {
	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if len(data) > 0 {
		var user yaml.Node
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if user.Kind != 0 {
			upgradeConfig(up.NewHelper(&base, &user))
		}
	}
	var cfg Config
	if err := base.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads the config file at path. A missing file is not an error:
// the example config plus environment overrides is used instead.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// Package config holds the dispatcher's typed, validated configuration model:
// categories, command sets, connections, access lists, admins and the final
// rule. The live config is loaded as an immutable value and handed to the
// router behind an atomic snapshot pointer (see dispatcher.Snapshot).
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
)

// AccessMode is a closed sum: a list either admits or excludes its members.
type AccessMode string

const (
	ModeWhitelist AccessMode = "whitelist"
	ModeBlacklist AccessMode = "blacklist"
)

// AccessType distinguishes whether a list's items are user ids or group ids.
type AccessType string

const (
	AccessUser  AccessType = "user"
	AccessGroup AccessType = "group"
)

// FinalAction is the closed sum of behaviors when no command set matches.
type FinalAction string

const (
	FinalReject  FinalAction = "reject"
	FinalAllow   FinalAction = "allow"
	FinalForward FinalAction = "forward"
)

// TimeRestriction is a wall-clock window in local time, HH:MM inclusive at
// start and exclusive at end. A window with End < Start wraps past midnight.
type TimeRestriction struct {
	Start string `mapstructure:"start" json:"start"`
	End   string `mapstructure:"end" json:"end"`
}

// Command is a single invocable name within a CommandSet.
type Command struct {
	Name            string           `mapstructure:"name" json:"name"`
	Aliases         []string         `mapstructure:"aliases" json:"aliases"`
	Description     string           `mapstructure:"description" json:"description"`
	IsPrivileged    bool             `mapstructure:"is_privileged" json:"is_privileged"`
	TimeRestriction *TimeRestriction `mapstructure:"time_restriction" json:"time_restriction,omitempty"`
}

// names returns Name plus all Aliases, longest first — Stage E of the router
// matches longest-name-first within a set to disambiguate e.g. /list vs /listen.
func (c Command) names() []string {
	all := append([]string{c.Name}, c.Aliases...)
	sort.SliceStable(all, func(i, j int) bool { return len(all[i]) > len(all[j]) })
	return all
}

// AccessList names a set of user or group ids used as a whitelist or blacklist.
type AccessList struct {
	ID    string     `mapstructure:"id" json:"id"`
	Name  string     `mapstructure:"name" json:"name"`
	Type  AccessType `mapstructure:"type" json:"type"`
	Mode  AccessMode `mapstructure:"mode" json:"mode"`
	Items []int64    `mapstructure:"items" json:"items"`
}

// Allows reports whether id passes this list's whitelist/blacklist rule.
func (a *AccessList) Allows(id int64) bool {
	member := false
	for _, it := range a.Items {
		if it == id {
			member = true
			break
		}
	}
	if a.Mode == ModeWhitelist {
		return member
	}
	return !member
}

// CommandSet is a named bundle of commands, optionally scoped to a category,
// targeting a specific upstream connection.
type CommandSet struct {
	ID              string    `mapstructure:"id" json:"id"`
	Name            string    `mapstructure:"name" json:"name"`
	Prefix          string    `mapstructure:"prefix" json:"prefix"`
	Category        string    `mapstructure:"category" json:"category"`
	TargetWS        string    `mapstructure:"target_ws" json:"target_ws"`
	IsPublic        bool      `mapstructure:"is_public" json:"is_public"`
	StripPrefix     bool      `mapstructure:"strip_prefix" json:"strip_prefix"`
	Priority        int       `mapstructure:"priority" json:"priority"`
	Enabled         bool      `mapstructure:"enabled" json:"enabled"`
	IsDefault       bool      `mapstructure:"is_default" json:"is_default"`
	UserAccessList  string    `mapstructure:"user_access_list" json:"user_access_list"`
	GroupAccessList string    `mapstructure:"group_access_list" json:"group_access_list"`
	Commands        []Command `mapstructure:"commands" json:"commands"`

	// order is the set's position in the config file, used as a stable
	// tie-breaker when Priority is equal (Stage C).
	order int
}

// sortedCommands returns Commands ordered by each command's longest name or
// alias, longest first. It orders whole commands, not individual names: a
// command's shorter names stay with it.
func (cs *CommandSet) sortedCommands() []Command {
	out := make([]Command, len(cs.Commands))
	copy(out, cs.Commands)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].names()[0]) > len(out[j].names()[0])
	})
	return out
}

// Category groups command sets, optionally mutually exclusive, among which a
// user picks one as their active style.
type Category struct {
	ID                string `mapstructure:"id" json:"id"`
	DisplayName       string `mapstructure:"display_name" json:"display_name"`
	Description       string `mapstructure:"description" json:"description"`
	Icon              string `mapstructure:"icon" json:"icon"`
	Order             int    `mapstructure:"order" json:"order"`
	Enabled           bool   `mapstructure:"enabled" json:"enabled"`
	AllowUserSwitch   bool   `mapstructure:"allow_user_switch" json:"allow_user_switch"`
	IsMutex           bool   `mapstructure:"is_mutex" json:"is_mutex"`
	DefaultCommandSet string `mapstructure:"default_command_set" json:"default_command_set"`
}

// Connection is a single outbound upstream WebSocket backend.
type Connection struct {
	ID                 string `mapstructure:"id" json:"id"`
	Name               string `mapstructure:"name" json:"name"`
	URL                string `mapstructure:"url" json:"url"`
	Token              string `mapstructure:"token" json:"token"`
	AutoReconnect      bool   `mapstructure:"auto_reconnect" json:"auto_reconnect"`
	ReconnectIntervalS int    `mapstructure:"reconnect_interval_s" json:"reconnect_interval_s"`
	AllowForward       bool   `mapstructure:"allow_forward" json:"allow_forward"`
}

// FinalRule is the fallback action applied to an unmatched message event.
type FinalRule struct {
	Action      FinalAction `mapstructure:"action" json:"action"`
	TargetWS    string      `mapstructure:"target_ws" json:"target_ws"`
	Message     string      `mapstructure:"message" json:"message"`
	SendMessage bool        `mapstructure:"send_message" json:"send_message"`
}

// Frontend configures the inbound WebSocket listener (C4).
type Frontend struct {
	Addr            string `mapstructure:"addr" json:"addr"`
	Token           string `mapstructure:"token" json:"token"`
	ReadBufferSize  int    `mapstructure:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int    `mapstructure:"write_buffer_size" json:"write_buffer_size"`
	MaxMessageSize  int64  `mapstructure:"max_message_size" json:"max_message_size"`
}

// Config is the full validated, id-indexed dispatcher configuration.
type Config struct {
	Log         clog.Config  `mapstructure:"log" json:"log"`
	Frontend    Frontend     `mapstructure:"frontend" json:"frontend"`
	Admins      []int64      `mapstructure:"admins" json:"admins"`
	Categories  []Category   `mapstructure:"categories" json:"categories"`
	CommandSets []CommandSet `mapstructure:"command_sets" json:"command_sets"`
	AccessLists []AccessList `mapstructure:"access_lists" json:"access_lists"`
	Connections []Connection `mapstructure:"connections" json:"connections"`
	Final       FinalRule    `mapstructure:"final" json:"final"`
}

// Load reads and validates dispatcher configuration.
// Precedence: environment variables (OBGATE_ prefixed) > .env > dispatcher.{env}.yaml > dispatcher.yaml.
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "dispatcher",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "OBGATE",
	})
	if err != nil {
		return nil, fmt.Errorf("config loader init: %w", err)
	}

	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.assignOrder()

	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("OBGATE_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

// assignOrder stamps each command set with its file position for Stage C's
// stable tie-break on equal priority.
func (c *Config) assignOrder() {
	for i := range c.CommandSets {
		c.CommandSets[i].order = i
	}
}

func dumpConfig(cfg *Config) {
	sanitized := *cfg
	for i := range sanitized.Connections {
		if sanitized.Connections[i].Token != "" {
			sanitized.Connections[i].Token = "***"
		}
	}
	if sanitized.Frontend.Token != "" {
		sanitized.Frontend.Token = "***"
	}
	data, _ := json.MarshalIndent(sanitized, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== Dispatcher Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}

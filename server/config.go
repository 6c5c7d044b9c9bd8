package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PickTeamsStrategy selects how initial teams are formed from a filled queue.
type PickTeamsStrategy string

const (
	PickTeamsDraft    PickTeamsStrategy = "draft"
	PickTeamsBalanced PickTeamsStrategy = "matchmaking"
	PickTeamsRandom   PickTeamsStrategy = "random teams"
	PickTeamsNone     PickTeamsStrategy = "no teams"
)

// PickCaptainsStrategy selects how captains are chosen.
type PickCaptainsStrategy string

const (
	PickCaptainsNone           PickCaptainsStrategy = "no captains"
	PickCaptainsByRoleRating   PickCaptainsStrategy = "by role and rating"
	PickCaptainsFairPairs      PickCaptainsStrategy = "fair pairs"
	PickCaptainsRandomRolePref PickCaptainsStrategy = "random with role preference"
	PickCaptainsRandom         PickCaptainsStrategy = "random"
)

// RatingBackendKind selects the numeric rating algorithm for a channel.
type RatingBackendKind string

const (
	RatingBackendFlat      RatingBackendKind = "flat"
	RatingBackendGlicko2   RatingBackendKind = "glicko2"
	RatingBackendOpenSkill RatingBackendKind = "openskill"
)

// StreakMode controls which result streaks scale the rating delta.
type StreakMode string

const (
	StreakModeOff    StreakMode = "off"
	StreakModeWins   StreakMode = "wins"
	StreakModeLosses StreakMode = "losses"
	StreakModeBoth   StreakMode = "both"
)

// QueueConfig is the per-queue configuration block.
type QueueConfig struct {
	Name      string   `yaml:"name" json:"name" validate:"required,excludesall=: " usage:"Queue name. One word, no ':' characters."`
	Aliases   []string `yaml:"aliases" json:"aliases" usage:"Alternate names for this queue."`
	Size      int      `yaml:"size" json:"size" validate:"gt=1,lte=1000" usage:"Queue capacity. A match starts when this many players are queued."`
	IsDefault bool     `yaml:"is_default" json:"is_default" usage:"Players can add to this queue without naming it. Default true."`
	Ranked    bool     `yaml:"ranked" json:"ranked" usage:"Enable rating features on this queue. Default false."`
	Autostart bool     `yaml:"autostart" json:"autostart" usage:"Start a match as soon as the queue is full. Default true."`

	CheckInTimeout time.Duration `yaml:"check_in_timeout" json:"check_in_timeout" validate:"min=0,max=1h" usage:"Check-in stage duration. 0 disables the check-in stage."`
	CheckInDiscard bool          `yaml:"check_in_discard" json:"check_in_discard" usage:"Allow discarding participation during check-in; a discard aborts the match and reverts the queue."`

	TeamSize     int                  `yaml:"team_size" json:"team_size" validate:"min=0,max=100" usage:"Force a maximum amount of players per team. 0 means size/2."`
	PickTeams    PickTeamsStrategy    `yaml:"pick_teams" json:"pick_teams" validate:"oneof='draft' 'matchmaking' 'random teams' 'no teams'" usage:"Team formation strategy."`
	PickCaptains PickCaptainsStrategy `yaml:"pick_captains" json:"pick_captains" validate:"oneof='no captains' 'by role and rating' 'fair pairs' 'random with role preference' 'random'" usage:"Captain selection strategy."`
	PickOrder    string               `yaml:"pick_order" json:"pick_order" usage:"Draft turn order, 'a' and 'b' characters only. Example: abababba."`
	TeamNames    [2]string            `yaml:"team_names" json:"team_names" usage:"Display names for the two teams."`
	TeamEmojis   [2]string            `yaml:"team_emojis" json:"team_emojis" usage:"Display glyphs for the two teams. Random animals when unset."`

	Maps        []string `yaml:"maps" json:"maps" usage:"Map pool to draw from on match start."`
	MapCount    int      `yaml:"map_count" json:"map_count" validate:"min=0,max=5" usage:"Number of maps to pick per match."`
	MapCooldown int      `yaml:"map_cooldown" json:"map_cooldown" validate:"min=0,max=100" usage:"Deprioritize the last played maps for this many matches. 0 disables."`
	VoteMaps    int      `yaml:"vote_maps" json:"vote_maps" validate:"min=0,max=9" usage:"Map vote pool size shown during check-in. 0 disables map voting."`

	MatchLifetime time.Duration `yaml:"match_lifetime" json:"match_lifetime" validate:"min=0" usage:"How long a match may wait for a report before it is cancelled. Default 3h."`

	CaptainsRoleID  string `yaml:"captains_role_id" json:"captains_role_id" usage:"Role preferred in captain selection and required for cap_for when set."`
	BlacklistRoleID string `yaml:"blacklist_role_id" json:"blacklist_role_id" usage:"Players with this role cannot add to the queue."`
	WhitelistRoleID string `yaml:"whitelist_role_id" json:"whitelist_role_id" usage:"Only players with this role can add to the queue."`
	PromotionRoleID string `yaml:"promotion_role_id" json:"promotion_role_id" usage:"Role highlighted by queue promotion notices."`
	StartMessage    string `yaml:"start_msg" json:"start_msg" usage:"Additional text printed on match start."`
}

func NewQueueConfig(name string, size int) *QueueConfig {
	return &QueueConfig{
		Name:           name,
		Size:           size,
		IsDefault:      true,
		Autostart:      true,
		CheckInDiscard: true,
		PickTeams:      PickTeamsDraft,
		PickCaptains:   PickCaptainsByRoleRating,
		PickOrder:      "abababba",
		TeamNames:      [2]string{"Alpha", "Beta"},
		MapCount:       1,
		MapCooldown:    1,
		MatchLifetime:  3 * time.Hour,
	}
}

// MaxTeamSize returns the effective players-per-team for a match of n players.
func (c *QueueConfig) MaxTeamSize(n int) int {
	size := n / 2
	if c.TeamSize > 0 && c.TeamSize < size {
		size = c.TeamSize
	}
	return size
}

// RatingConfig configures the rating engine for one channel.
type RatingConfig struct {
	Backend          RatingBackendKind `yaml:"backend" json:"backend" validate:"oneof=flat glicko2 openskill" usage:"Rating algorithm: flat, glicko2 or openskill."`
	InitialRating    int               `yaml:"initial_rating" json:"initial_rating" validate:"gt=0,lt=10000" usage:"Rating assigned on first appearance. Default 1500."`
	InitialDeviation int               `yaml:"initial_deviation" json:"initial_deviation" validate:"gt=0,lt=3000" usage:"Deviation assigned on first appearance. Default 300."`
	Scale            int               `yaml:"scale" json:"scale" validate:"gt=0,lte=256" usage:"Base rating change scale. Default 32."`
	WinScale         float64           `yaml:"win_scale" json:"win_scale" validate:"gt=0" usage:"Multiplier applied to rating gains. Default 1.0."`
	LossScale        float64           `yaml:"loss_scale" json:"loss_scale" validate:"gt=0" usage:"Multiplier applied to rating losses. Default 1.0."`
	Streaks          StreakMode        `yaml:"streaks" json:"streaks" validate:"oneof=off wins losses both" usage:"Scale deltas x1.5..x3.0 over 3..6 consecutive same-direction results."`
	DeviationFloor   int               `yaml:"deviation_floor" json:"deviation_floor" validate:"min=0" usage:"Deviation never drops below this value. Default 30."`
	RankThresholds   []int             `yaml:"rank_thresholds" json:"rank_thresholds" usage:"Ascending rating thresholds used by snap and decay."`
	DecayAmount      int               `yaml:"decay_amount" json:"decay_amount" validate:"min=0" usage:"Rating points removed per decay pass from inactive players. Default 10."`
	DecayInactivity  time.Duration     `yaml:"decay_inactivity" json:"decay_inactivity" validate:"min=0" usage:"Inactivity span after which rating decay applies. Default 168h."`
}

func NewRatingConfig() *RatingConfig {
	return &RatingConfig{
		Backend:          RatingBackendFlat,
		InitialRating:    1500,
		InitialDeviation: 300,
		Scale:            32,
		WinScale:         1.0,
		LossScale:        1.0,
		Streaks:          StreakModeOff,
		DeviationFloor:   30,
		DecayAmount:      10,
		DecayInactivity:  7 * 24 * time.Hour,
	}
}

// ChannelConfig describes one competitive context and its queues.
type ChannelConfig struct {
	ID              string         `yaml:"id" json:"id" validate:"required" usage:"Channel identifier. Ratings and queues are scoped to it."`
	ModeratorRoleID string         `yaml:"moderator_role_id" json:"moderator_role_id" usage:"Role allowed to use moderator operations."`
	ExpireDefault   time.Duration  `yaml:"expire_default" json:"expire_default" validate:"min=0" usage:"Default idle expiry for queued players. 0 disables."`
	Rating          *RatingConfig  `yaml:"rating" json:"rating"`
	Queues          []*QueueConfig `yaml:"queues" json:"queues" validate:"dive"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level      string `yaml:"level" json:"level" validate:"oneof=debug info warn error" usage:"Log level. Default info."`
	File       string `yaml:"file" json:"file" usage:"Log file path. Empty logs to stdout only."`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" usage:"Rotate the log file after this many megabytes. Default 100."`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" usage:"Keep rotated files for this many days. Default 30."`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" usage:"Keep this many rotated files. Default 10."`
	Format     string `yaml:"format" json:"format" validate:"oneof=json console" usage:"Log output format. Default json."`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		MaxSizeMB:  100,
		MaxAgeDays: 30,
		MaxBackups: 10,
		Format:     "json",
	}
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Address         string        `yaml:"address" json:"address" usage:"Postgres connection string. Empty keeps all state in memory."`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" usage:"Maximum open connections. Default 10."`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" usage:"Connection max lifetime. Default 1h."`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DiscordConfig configures the chat-platform adapter.
type DiscordConfig struct {
	Token string `yaml:"token" json:"token" usage:"Discord bot token. Empty disables the adapter."`
}

// Config is the process configuration root.
type Config struct {
	Logger   *LoggerConfig    `yaml:"logger" json:"logger"`
	Database *DatabaseConfig  `yaml:"database" json:"database"`
	Discord  *DiscordConfig   `yaml:"discord" json:"discord"`
	Channels []*ChannelConfig `yaml:"channels" json:"channels" validate:"dive"`
}

func NewConfig() *Config {
	return &Config{
		Logger:   NewLoggerConfig(),
		Database: NewDatabaseConfig(),
		Discord:  &DiscordConfig{},
	}
}

// LoadConfig reads, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses config bytes, applying defaults before validation.
func ParseConfig(data []byte) (*Config, error) {
	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = NewLoggerConfig()
	}
	if c.Database == nil {
		c.Database = NewDatabaseConfig()
	}
	if c.Discord == nil {
		c.Discord = &DiscordConfig{}
	}
	for _, channel := range c.Channels {
		if channel.Rating == nil {
			channel.Rating = NewRatingConfig()
		}
	}
}

// UnmarshalYAML fills in queue defaults before decoding the block.
func (c *QueueConfig) UnmarshalYAML(value *yaml.Node) error {
	*c = *NewQueueConfig("", 0)
	type plain QueueConfig
	return value.Decode((*plain)(c))
}

// UnmarshalYAML fills in rating defaults before decoding the block.
func (c *RatingConfig) UnmarshalYAML(value *yaml.Node) error {
	*c = *NewRatingConfig()
	type plain RatingConfig
	return value.Decode((*plain)(c))
}

// UnmarshalYAML fills in logger defaults before decoding the block.
func (c *LoggerConfig) UnmarshalYAML(value *yaml.Node) error {
	*c = *NewLoggerConfig()
	type plain LoggerConfig
	return value.Decode((*plain)(c))
}

// UnmarshalYAML fills in database defaults before decoding the block.
func (c *DatabaseConfig) UnmarshalYAML(value *yaml.Node) error {
	*c = *NewDatabaseConfig()
	type plain DatabaseConfig
	return value.Decode((*plain)(c))
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, channel := range c.Channels {
		for _, q := range channel.Queues {
			if err := validatePickOrder(q.PickOrder); err != nil {
				return fmt.Errorf("queue %q: %w", q.Name, err)
			}
			if q.VoteMaps > 0 && q.CheckInTimeout == 0 {
				return fmt.Errorf("queue %q: vote_maps requires check_in_timeout", q.Name)
			}
		}
		if channel.Rating != nil {
			prev := -1
			for _, threshold := range channel.Rating.RankThresholds {
				if threshold <= prev {
					return fmt.Errorf("channel %q: rank_thresholds must be strictly ascending", channel.ID)
				}
				prev = threshold
			}
		}
	}
	return nil
}

func validatePickOrder(order string) error {
	if strings.Trim(order, "ab") != "" {
		return fmt.Errorf("pick_order may only contain 'a' and 'b' characters")
	}
	return nil
}

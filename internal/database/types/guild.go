package types

import (
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var ErrGuildConfigNotFound = errors.New("guild config not found")

// Default values applied to a guild the first time its config is written.
const (
	DefaultReportTime = "10:00"
	DefaultTimezone   = "UTC"
)

// GuildConfig holds the per-guild report settings.
// A guild with a config row is considered tracked.
type GuildConfig struct {
	GuildID         snowflake.ID `bun:",pk"       json:"guildId"`
	ReportChannelID snowflake.ID `bun:",nullzero" json:"reportChannelId,omitempty"`
	ReportTime      string       `bun:",notnull"  json:"reportTime"`
	Timezone        string       `bun:",notnull"  json:"timezone"`
	Enabled         bool         `bun:",notnull"  json:"enabled"`
	NotifyEndpoint  string       `bun:",nullzero" json:"notifyEndpoint,omitempty"`
	CreatedAt       time.Time    `bun:",notnull"  json:"createdAt"`
	UpdatedAt       time.Time    `bun:",notnull"  json:"updatedAt"`
}

// HasDestination reports whether a report channel is configured.
func (c *GuildConfig) HasDestination() bool {
	return c.ReportChannelID != 0
}

// ReportsEnabled reports whether scheduled reports should be sent for the guild.
func (c *GuildConfig) ReportsEnabled() bool {
	return c.Enabled && c.HasDestination()
}

// GuildDefaults are the values a new guild config starts from.
type GuildDefaults struct {
	ReportTime string
	Timezone   string
}

// NewGuildConfig creates an unsaved config populated with the given defaults.
func NewGuildConfig(guildID snowflake.ID, defaults GuildDefaults, now time.Time) *GuildConfig {
	reportTime := defaults.ReportTime
	if reportTime == "" {
		reportTime = DefaultReportTime
	}

	timezone := defaults.Timezone
	if timezone == "" {
		timezone = DefaultTimezone
	}

	return &GuildConfig{
		GuildID:    guildID,
		ReportTime: reportTime,
		Timezone:   timezone,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// GuildConfigUpdate is a partial config change. Nil fields are left unchanged.
// An empty NotifyEndpoint or a zero ReportChannelID clears the setting.
type GuildConfigUpdate struct {
	ReportChannelID *snowflake.ID
	ReportTime      *string
	Timezone        *string
	Enabled         *bool
	NotifyEndpoint  *string
}

// IsEmpty reports whether the update changes nothing.
func (u *GuildConfigUpdate) IsEmpty() bool {
	return u == nil || (u.ReportChannelID == nil && u.ReportTime == nil &&
		u.Timezone == nil && u.Enabled == nil && u.NotifyEndpoint == nil)
}

// Apply copies the set fields of the update onto the config.
func (u *GuildConfigUpdate) Apply(cfg *GuildConfig, now time.Time) {
	if u == nil {
		return
	}

	if u.ReportChannelID != nil {
		cfg.ReportChannelID = *u.ReportChannelID
	}
	if u.ReportTime != nil {
		cfg.ReportTime = *u.ReportTime
	}
	if u.Timezone != nil {
		cfg.Timezone = *u.Timezone
	}
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.NotifyEndpoint != nil {
		cfg.NotifyEndpoint = *u.NotifyEndpoint
	}

	cfg.UpdatedAt = now
}

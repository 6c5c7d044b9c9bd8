package server

import (
	"context"
	"time"
)

// RatingRecord is the persisted skill state for one player in one channel.
// Created lazily at first lookup, mutated only by the rating engine, never
// deleted outside of a reset.
type RatingRecord struct {
	ChannelID    string    `json:"channel_id"`
	UserID       string    `json:"user_id"`
	Nick         string    `json:"nick"`
	Rating       int       `json:"rating"`
	Deviation    int       `json:"deviation"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Draws        int       `json:"draws"`
	Streak       int       `json:"streak"` // positive = win streak, negative = loss streak
	Hidden       bool      `json:"hidden"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

// RatingHistoryEntry is an append-only audit row for one rating change.
type RatingHistoryEntry struct {
	ID              int64     `json:"id"`
	ChannelID       string    `json:"channel_id"`
	UserID          string    `json:"user_id"`
	At              time.Time `json:"at"`
	RatingBefore    int       `json:"rating_before"`
	RatingChange    int       `json:"rating_change"`
	DeviationBefore int       `json:"deviation_before"`
	DeviationChange int       `json:"deviation_change"`
	MatchID         *int64    `json:"match_id,omitempty"` // nil for manual adjustments
	Reason          string    `json:"reason"`
}

// PlayerProfile holds per-participant flags that are not channel-scoped.
type PlayerProfile struct {
	UserID      string        `json:"user_id"`
	AllowDM     bool          `json:"allow_dm"`
	ExpireAfter time.Duration `json:"expire_after"` // personal default idle expiry, 0 = channel default
}

// MatchArchive is the permanent record of a completed match.
type MatchArchive struct {
	MatchID   int64     `json:"match_id"`
	ChannelID string    `json:"channel_id"`
	QueueName string    `json:"queue_name"`
	At        time.Time `json:"at"`
	TeamNames [2]string `json:"team_names"`
	Ranked    bool      `json:"ranked"`
	Winner    Winner    `json:"winner"`
	Maps      []string  `json:"maps"`
}

// MatchPlayerRow links one player to an archived match. Team is 0 or 1, or
// -1 for players that finished the match unassigned.
type MatchPlayerRow struct {
	MatchID   int64  `json:"match_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Nick      string `json:"nick"`
	Team      int    `json:"team"`
}

// Storage is the persistence contract the core consumes. Implementations
// must be safe for use from the driver goroutine and adapter callbacks.
type Storage interface {
	// Ratings. GetRatings returns only records that exist; the engine
	// supplies configured initial values for the rest.
	GetRatings(ctx context.Context, channelID string, userIDs []string) ([]RatingRecord, error)
	ListRatings(ctx context.Context, channelID string, limit int) ([]RatingRecord, error)
	UpsertRatings(ctx context.Context, records []RatingRecord) error
	DeleteRatings(ctx context.Context, channelID string) error

	// Rating history, append-only.
	InsertHistory(ctx context.Context, entries []RatingHistoryEntry) error
	HistoryForMatch(ctx context.Context, channelID string, matchID int64) ([]RatingHistoryEntry, error)
	DeleteHistoryForMatch(ctx context.Context, channelID string, matchID int64) error

	// Match archive.
	LastMatchID(ctx context.Context) (int64, error)
	InsertMatchArchive(ctx context.Context, archive MatchArchive, players []MatchPlayerRow) error
	GetMatchArchive(ctx context.Context, channelID string, matchID int64) (*MatchArchive, []MatchPlayerRow, error)
	DeleteMatchArchive(ctx context.Context, channelID string, matchID int64) error

	// Crash-recovery snapshots of in-flight matches.
	SaveMatchSnapshot(ctx context.Context, snapshot *MatchSnapshot) error
	DeleteMatchSnapshot(ctx context.Context, matchID int64) error
	ListMatchSnapshots(ctx context.Context) ([]*MatchSnapshot, error)

	// Per-participant profile flags.
	GetProfile(ctx context.Context, userID string) (*PlayerProfile, error)
	UpsertProfile(ctx context.Context, profile *PlayerProfile) error
}

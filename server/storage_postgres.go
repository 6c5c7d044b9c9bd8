package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS players (
    channel_id     TEXT        NOT NULL,
    user_id        TEXT        NOT NULL,
    nick           TEXT        NOT NULL DEFAULT '',
    rating         INT         NOT NULL,
    deviation      INT         NOT NULL,
    wins           INT         NOT NULL DEFAULT 0,
    losses         INT         NOT NULL DEFAULT 0,
    draws          INT         NOT NULL DEFAULT 0,
    streak         INT         NOT NULL DEFAULT 0,
    is_hidden      BOOLEAN     NOT NULL DEFAULT FALSE,
    last_played_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (channel_id, user_id)
);
CREATE TABLE IF NOT EXISTS rating_history (
    id               BIGSERIAL   PRIMARY KEY,
    channel_id       TEXT        NOT NULL,
    user_id          TEXT        NOT NULL,
    at               TIMESTAMPTZ NOT NULL,
    rating_before    INT         NOT NULL,
    rating_change    INT         NOT NULL,
    deviation_before INT         NOT NULL,
    deviation_change INT         NOT NULL,
    match_id         BIGINT,
    reason           TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS rating_history_match_idx ON rating_history (channel_id, match_id);
CREATE TABLE IF NOT EXISTS matches (
    match_id    BIGINT      PRIMARY KEY,
    channel_id  TEXT        NOT NULL,
    queue_name  TEXT        NOT NULL,
    at          TIMESTAMPTZ NOT NULL,
    team_a_name TEXT        NOT NULL,
    team_b_name TEXT        NOT NULL,
    ranked      BOOLEAN     NOT NULL,
    winner      TEXT        NOT NULL,
    maps        JSONB       NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS match_players (
    match_id   BIGINT NOT NULL,
    channel_id TEXT   NOT NULL,
    user_id    TEXT   NOT NULL,
    nick       TEXT   NOT NULL DEFAULT '',
    team       INT    NOT NULL,
    PRIMARY KEY (match_id, user_id)
);
CREATE TABLE IF NOT EXISTS match_snapshots (
    match_id   BIGINT      PRIMARY KEY,
    channel_id TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    data       JSONB       NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
    user_id      TEXT    PRIMARY KEY,
    allow_dm     BOOLEAN NOT NULL DEFAULT TRUE,
    expire_after BIGINT  NOT NULL DEFAULT 0
);`

// PostgresStorage implements Storage on Postgres through the pgx stdlib
// driver.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStorage opens the pool, verifies connectivity and applies the
// schema.
func NewPostgresStorage(ctx context.Context, config *DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", config.Address)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("Database connection established", zap.String("address", config.Address))
	return &PostgresStorage{db: db, logger: logger}, nil
}

func (s *PostgresStorage) Close() error { return s.db.Close() }

// placeholders renders "$from, $from+1, ..." for dynamic IN lists.
func placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

const ratingColumns = "channel_id, user_id, nick, rating, deviation, wins, losses, draws, streak, is_hidden, last_played_at"

func scanRating(scan func(...any) error) (RatingRecord, error) {
	var record RatingRecord
	err := scan(&record.ChannelID, &record.UserID, &record.Nick, &record.Rating, &record.Deviation,
		&record.Wins, &record.Losses, &record.Draws, &record.Streak, &record.Hidden, &record.LastPlayedAt)
	return record, err
}

func (s *PostgresStorage) GetRatings(ctx context.Context, channelID string, userIDs []string) ([]RatingRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM players WHERE channel_id = $1 AND user_id IN (%s)",
		ratingColumns, placeholders(2, len(userIDs)))
	params := make([]any, 0, len(userIDs)+1)
	params = append(params, channelID)
	for _, id := range userIDs {
		params = append(params, id)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RatingRecord
	for rows.Next() {
		record, err := scanRating(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStorage) ListRatings(ctx context.Context, channelID string, limit int) ([]RatingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM players WHERE channel_id = $1 ORDER BY rating DESC, user_id ASC", ratingColumns)
	params := []any{channelID}
	if limit > 0 {
		query += " LIMIT $2"
		params = append(params, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RatingRecord
	for rows.Next() {
		record, err := scanRating(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStorage) UpsertRatings(ctx context.Context, records []RatingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `INSERT INTO players (` + ratingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (channel_id, user_id) DO UPDATE SET
    nick = EXCLUDED.nick, rating = EXCLUDED.rating, deviation = EXCLUDED.deviation,
    wins = EXCLUDED.wins, losses = EXCLUDED.losses, draws = EXCLUDED.draws,
    streak = EXCLUDED.streak, is_hidden = EXCLUDED.is_hidden, last_played_at = EXCLUDED.last_played_at`
	for _, record := range records {
		if _, err := tx.ExecContext(ctx, query,
			record.ChannelID, record.UserID, record.Nick, record.Rating, record.Deviation,
			record.Wins, record.Losses, record.Draws, record.Streak, record.Hidden, record.LastPlayedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) DeleteRatings(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM players WHERE channel_id = $1", channelID)
	return err
}

func (s *PostgresStorage) InsertHistory(ctx context.Context, entries []RatingHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `INSERT INTO rating_history
    (channel_id, user_id, at, rating_before, rating_change, deviation_before, deviation_change, match_id, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query,
			entry.ChannelID, entry.UserID, entry.At, entry.RatingBefore, entry.RatingChange,
			entry.DeviationBefore, entry.DeviationChange, entry.MatchID, entry.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) HistoryForMatch(ctx context.Context, channelID string, matchID int64) ([]RatingHistoryEntry, error) {
	const query = `SELECT id, channel_id, user_id, at, rating_before, rating_change, deviation_before, deviation_change, match_id, reason
FROM rating_history WHERE channel_id = $1 AND match_id = $2 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, channelID, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RatingHistoryEntry
	for rows.Next() {
		var entry RatingHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.ChannelID, &entry.UserID, &entry.At,
			&entry.RatingBefore, &entry.RatingChange, &entry.DeviationBefore, &entry.DeviationChange,
			&entry.MatchID, &entry.Reason); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) DeleteHistoryForMatch(ctx context.Context, channelID string, matchID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rating_history WHERE channel_id = $1 AND match_id = $2", channelID, matchID)
	return err
}

func (s *PostgresStorage) LastMatchID(ctx context.Context) (int64, error) {
	var lastID sql.NullInt64
	const query = `SELECT GREATEST(
    (SELECT COALESCE(MAX(match_id), 0) FROM matches),
    (SELECT COALESCE(MAX(match_id), 0) FROM match_snapshots))`
	if err := s.db.QueryRowContext(ctx, query).Scan(&lastID); err != nil {
		return 0, err
	}
	return lastID.Int64, nil
}

func (s *PostgresStorage) InsertMatchArchive(ctx context.Context, archive MatchArchive, players []MatchPlayerRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	maps, err := json.Marshal(archive.Maps)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO matches
    (match_id, channel_id, queue_name, at, team_a_name, team_b_name, ranked, winner, maps)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		archive.MatchID, archive.ChannelID, archive.QueueName, archive.At,
		archive.TeamNames[0], archive.TeamNames[1], archive.Ranked, string(archive.Winner), maps); err != nil {
		return err
	}
	for _, p := range players {
		if _, err := tx.ExecContext(ctx, `INSERT INTO match_players (match_id, channel_id, user_id, nick, team)
VALUES ($1, $2, $3, $4, $5)`, p.MatchID, p.ChannelID, p.UserID, p.Nick, p.Team); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) GetMatchArchive(ctx context.Context, channelID string, matchID int64) (*MatchArchive, []MatchPlayerRow, error) {
	var archive MatchArchive
	var winner string
	var maps []byte
	err := s.db.QueryRowContext(ctx, `SELECT match_id, channel_id, queue_name, at, team_a_name, team_b_name, ranked, winner, maps
FROM matches WHERE channel_id = $1 AND match_id = $2`, channelID, matchID).Scan(
		&archive.MatchID, &archive.ChannelID, &archive.QueueName, &archive.At,
		&archive.TeamNames[0], &archive.TeamNames[1], &archive.Ranked, &winner, &maps)
	if err == sql.ErrNoRows {
		return nil, nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	archive.Winner = Winner(winner)
	if err := json.Unmarshal(maps, &archive.Maps); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT match_id, channel_id, user_id, nick, team
FROM match_players WHERE match_id = $1 ORDER BY team ASC, user_id ASC`, matchID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var players []MatchPlayerRow
	for rows.Next() {
		var p MatchPlayerRow
		if err := rows.Scan(&p.MatchID, &p.ChannelID, &p.UserID, &p.Nick, &p.Team); err != nil {
			return nil, nil, err
		}
		players = append(players, p)
	}
	return &archive, players, rows.Err()
}

func (s *PostgresStorage) DeleteMatchArchive(ctx context.Context, channelID string, matchID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM match_players WHERE match_id = $1", matchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE channel_id = $1 AND match_id = $2", channelID, matchID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStorage) SaveMatchSnapshot(ctx context.Context, snapshot *MatchSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO match_snapshots (match_id, channel_id, updated_at, data)
VALUES ($1, $2, now(), $3)
ON CONFLICT (match_id) DO UPDATE SET updated_at = now(), data = EXCLUDED.data`,
		snapshot.MatchID, snapshot.ChannelID, data)
	return err
}

func (s *PostgresStorage) DeleteMatchSnapshot(ctx context.Context, matchID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM match_snapshots WHERE match_id = $1", matchID)
	return err
}

func (s *PostgresStorage) ListMatchSnapshots(ctx context.Context) ([]*MatchSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM match_snapshots ORDER BY match_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*MatchSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		snapshot := &MatchSnapshot{}
		if err := json.Unmarshal(data, snapshot); err != nil {
			s.logger.Warn("Skipping unreadable match snapshot", zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (s *PostgresStorage) GetProfile(ctx context.Context, userID string) (*PlayerProfile, error) {
	profile := &PlayerProfile{}
	var expireAfter int64
	err := s.db.QueryRowContext(ctx, "SELECT user_id, allow_dm, expire_after FROM profiles WHERE user_id = $1", userID).
		Scan(&profile.UserID, &profile.AllowDM, &expireAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile.ExpireAfter = time.Duration(expireAfter)
	return profile, nil
}

func (s *PostgresStorage) UpsertProfile(ctx context.Context, profile *PlayerProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (user_id, allow_dm, expire_after)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET allow_dm = EXCLUDED.allow_dm, expire_after = EXCLUDED.expire_after`,
		profile.UserID, profile.AllowDM, int64(profile.ExpireAfter))
	return err
}

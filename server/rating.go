package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RatingEngine owns all persisted rating state for one channel. It wraps the
// configured backend with scaling, streak boosts, clamping and counter
// bookkeeping, and appends an audit row for every change it applies.
type RatingEngine struct {
	channelID string
	config    *RatingConfig
	backend   RatingBackend
	storage   Storage
	logger    *zap.Logger
	now       func() time.Time
}

func NewRatingEngine(channelID string, config *RatingConfig, storage Storage, logger *zap.Logger) *RatingEngine {
	return &RatingEngine{
		channelID: channelID,
		config:    config,
		backend:   NewRatingBackend(config),
		storage:   storage,
		logger:    logger.With(zap.String("channel_id", channelID)),
		now:       time.Now,
	}
}

// GetRecords returns the rating records for the given players in input
// order, substituting configured initial values for first-time players.
func (e *RatingEngine) GetRecords(ctx context.Context, players []Player) ([]RatingRecord, error) {
	stored, err := e.storage.GetRatings(ctx, e.channelID, PlayerIDs(players))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]RatingRecord, len(stored))
	for _, record := range stored {
		byID[record.UserID] = record
	}
	records := make([]RatingRecord, len(players))
	for i, p := range players {
		if record, ok := byID[p.ID]; ok {
			record.Nick = p.Nick
			records[i] = record
			continue
		}
		records[i] = e.initialRecord(p)
	}
	return records, nil
}

// GetRecord returns one player's record, initial values if never rated.
func (e *RatingEngine) GetRecord(ctx context.Context, p Player) (RatingRecord, error) {
	records, err := e.GetRecords(ctx, []Player{p})
	if err != nil {
		return RatingRecord{}, err
	}
	return records[0], nil
}

func (e *RatingEngine) initialRecord(p Player) RatingRecord {
	return RatingRecord{
		ChannelID: e.channelID,
		UserID:    p.ID,
		Nick:      p.Nick,
		Rating:    e.config.InitialRating,
		Deviation: e.config.InitialDeviation,
	}
}

// RateResult carries the before/after records of one rating update, keyed by
// player ID.
type RateResult struct {
	Before map[string]RatingRecord
	After  map[string]RatingRecord
}

// Rate applies one match outcome. Winners and losers are full rosters; with
// draw set the group split only determines history ordering. The update is
// persisted together with one history row per player.
func (e *RatingEngine) Rate(ctx context.Context, matchID int64, reason string, winners, losers []Player, draw bool) (*RateResult, error) {
	if len(winners) == 0 || len(losers) == 0 {
		return nil, NewError(ValidationError, "both sides of a rated match must have players")
	}

	winnerRecords, err := e.GetRecords(ctx, winners)
	if err != nil {
		return nil, err
	}
	loserRecords, err := e.GetRecords(ctx, losers)
	if err != nil {
		return nil, err
	}

	rawWinners, rawLosers := e.backend.Rate(recordsToScores(winnerRecords), recordsToScores(loserRecords), draw)

	now := e.now()
	result := &RateResult{
		Before: make(map[string]RatingRecord, len(winners)+len(losers)),
		After:  make(map[string]RatingRecord, len(winners)+len(losers)),
	}

	updated := make([]RatingRecord, 0, len(winners)+len(losers))
	history := make([]RatingHistoryEntry, 0, len(winners)+len(losers))

	apply := func(records []RatingRecord, scores []Score, won bool) {
		for i, before := range records {
			after := e.applyModifiers(before, scores[i], won, draw)
			after.LastPlayedAt = now

			result.Before[before.UserID] = before
			result.After[after.UserID] = after
			updated = append(updated, after)
			id := matchID
			history = append(history, RatingHistoryEntry{
				ChannelID:       e.channelID,
				UserID:          before.UserID,
				At:              now,
				RatingBefore:    before.Rating,
				RatingChange:    after.Rating - before.Rating,
				DeviationBefore: before.Deviation,
				DeviationChange: after.Deviation - before.Deviation,
				MatchID:         &id,
				Reason:          reason,
			})
		}
	}
	apply(winnerRecords, rawWinners, true)
	apply(loserRecords, rawLosers, false)

	if err := e.storage.UpsertRatings(ctx, updated); err != nil {
		return nil, err
	}
	if err := e.storage.InsertHistory(ctx, history); err != nil {
		return nil, err
	}

	e.logger.Info("Applied rating update",
		zap.Int64("match_id", matchID),
		zap.String("backend", string(e.backend.Name())),
		zap.Bool("draw", draw),
		zap.Int("players", len(updated)))
	return result, nil
}

// applyModifiers turns a raw backend score into the stored record: scale
// factors, streak boost, clamping, then counters.
func (e *RatingEngine) applyModifiers(before RatingRecord, raw Score, won, draw bool) RatingRecord {
	after := before
	delta := float64(raw.Rating - before.Rating)

	if !draw {
		if won {
			delta *= e.config.WinScale
		} else {
			delta *= e.config.LossScale
		}
		delta *= e.streakMultiplier(before.Streak, won)
	}

	after.Rating = before.Rating + int(delta)
	after.Deviation = raw.Deviation

	if after.Rating < 0 {
		after.Rating = 0
	}
	if after.Deviation < e.config.DeviationFloor {
		after.Deviation = e.config.DeviationFloor
	}

	switch {
	case draw:
		after.Draws++
		after.Streak = 0
	case won:
		after.Wins++
		if after.Streak < 0 {
			after.Streak = 0
		}
		after.Streak++
	default:
		after.Losses++
		if after.Streak > 0 {
			after.Streak = 0
		}
		after.Streak--
	}
	return after
}

// streakMultiplier ramps from x1.5 at 3 consecutive same-direction results
// up to x3.0 at 6 or more. The streak count includes the current result.
func (e *RatingEngine) streakMultiplier(streakBefore int, won bool) float64 {
	switch e.config.Streaks {
	case StreakModeWins:
		if !won {
			return 1
		}
	case StreakModeLosses:
		if won {
			return 1
		}
	case StreakModeBoth:
	default:
		return 1
	}

	streak := 0
	if won && streakBefore >= 0 {
		streak = streakBefore + 1
	} else if !won && streakBefore <= 0 {
		streak = -streakBefore + 1
	}
	if streak < 3 {
		return 1
	}
	if streak > 6 {
		streak = 6
	}
	return 1.5 + 0.5*float64(streak-3)
}

// SetRating manually seeds a player's rating and optionally deviation.
func (e *RatingEngine) SetRating(ctx context.Context, p Player, newRating int, newDeviation *int, reason string) error {
	if newRating < 0 || newRating >= 10000 {
		return NewError(ValidationError, "bad rating value")
	}
	if newDeviation != nil && (*newDeviation <= 0 || *newDeviation >= 3000) {
		return NewError(ValidationError, "bad deviation value")
	}
	record, err := e.GetRecord(ctx, p)
	if err != nil {
		return err
	}
	before := record
	record.Rating = newRating
	if newDeviation != nil {
		record.Deviation = *newDeviation
	}
	return e.writeAdjustment(ctx, before, record, reason)
}

// AddPenalty subtracts points from a player's rating, audited with a
// "penalty: …" reason.
func (e *RatingEngine) AddPenalty(ctx context.Context, p Player, penalty int, reason string) error {
	if penalty <= 0 {
		return NewError(ValidationError, "penalty must be positive")
	}
	record, err := e.GetRecord(ctx, p)
	if err != nil {
		return err
	}
	before := record
	record.Rating -= penalty
	if record.Rating < 0 {
		record.Rating = 0
	}
	return e.writeAdjustment(ctx, before, record, fmt.Sprintf("penalty: %s", reason))
}

func (e *RatingEngine) writeAdjustment(ctx context.Context, before, after RatingRecord, reason string) error {
	if err := e.storage.UpsertRatings(ctx, []RatingRecord{after}); err != nil {
		return err
	}
	return e.storage.InsertHistory(ctx, []RatingHistoryEntry{{
		ChannelID:       e.channelID,
		UserID:          after.UserID,
		At:              e.now(),
		RatingBefore:    before.Rating,
		RatingChange:    after.Rating - before.Rating,
		DeviationBefore: before.Deviation,
		DeviationChange: after.Deviation - before.Deviation,
		Reason:          reason,
	}})
}

// HidePlayer toggles leaderboard visibility. Rating state is untouched.
func (e *RatingEngine) HidePlayer(ctx context.Context, p Player, hidden bool) error {
	record, err := e.GetRecord(ctx, p)
	if err != nil {
		return err
	}
	record.Hidden = hidden
	return e.storage.UpsertRatings(ctx, []RatingRecord{record})
}

// Reset wipes every rating record in the channel, recording the prior value
// of each in the history first.
func (e *RatingEngine) Reset(ctx context.Context) error {
	records, err := e.storage.ListRatings(ctx, e.channelID, 0)
	if err != nil {
		return err
	}
	now := e.now()
	history := make([]RatingHistoryEntry, 0, len(records))
	for _, record := range records {
		history = append(history, RatingHistoryEntry{
			ChannelID:       e.channelID,
			UserID:          record.UserID,
			At:              now,
			RatingBefore:    record.Rating,
			RatingChange:    -record.Rating,
			DeviationBefore: record.Deviation,
			DeviationChange: -record.Deviation,
			Reason:          "ratings reset",
		})
	}
	if err := e.storage.InsertHistory(ctx, history); err != nil {
		return err
	}
	if err := e.storage.DeleteRatings(ctx, e.channelID); err != nil {
		return err
	}
	e.logger.Info("Reset channel ratings", zap.Int("players", len(records)))
	return nil
}

// SnapRatings collapses every rating to the nearest rank threshold at or
// below it.
func (e *RatingEngine) SnapRatings(ctx context.Context) error {
	if len(e.config.RankThresholds) == 0 {
		return NewError(ValidationError, "no rank thresholds configured")
	}
	records, err := e.storage.ListRatings(ctx, e.channelID, 0)
	if err != nil {
		return err
	}
	now := e.now()
	var updated []RatingRecord
	var history []RatingHistoryEntry
	for _, record := range records {
		snapped := e.rankFloor(record.Rating)
		if snapped == record.Rating {
			continue
		}
		before := record
		record.Rating = snapped
		updated = append(updated, record)
		history = append(history, RatingHistoryEntry{
			ChannelID:       e.channelID,
			UserID:          record.UserID,
			At:              now,
			RatingBefore:    before.Rating,
			RatingChange:    record.Rating - before.Rating,
			DeviationBefore: before.Deviation,
			Reason:          "ratings snap",
		})
	}
	if err := e.storage.UpsertRatings(ctx, updated); err != nil {
		return err
	}
	if err := e.storage.InsertHistory(ctx, history); err != nil {
		return err
	}
	e.logger.Info("Snapped channel ratings", zap.Int("changed", len(updated)))
	return nil
}

// ApplyDecay shrinks every deviation a quarter of the way toward the
// configured initial value, and pulls ratings of players inactive past the
// configured span down toward the next lower rank threshold. A rating never
// drops below its rank floor and players already at or under their floor
// are left alone.
func (e *RatingEngine) ApplyDecay(ctx context.Context) error {
	records, err := e.storage.ListRatings(ctx, e.channelID, 0)
	if err != nil {
		return err
	}
	now := e.now()
	var updated []RatingRecord
	var history []RatingHistoryEntry
	for _, record := range records {
		before := record

		record.Deviation += (e.config.InitialDeviation - record.Deviation) / 4
		if record.Deviation < e.config.DeviationFloor {
			record.Deviation = e.config.DeviationFloor
		}

		inactive := record.LastPlayedAt.IsZero() || now.Sub(record.LastPlayedAt) >= e.config.DecayInactivity
		if inactive && e.config.DecayAmount > 0 {
			floor := e.rankFloor(record.Rating)
			if record.Rating > floor {
				record.Rating -= e.config.DecayAmount
				if record.Rating < floor {
					record.Rating = floor
				}
			}
		}

		if record == before {
			continue
		}
		updated = append(updated, record)
		history = append(history, RatingHistoryEntry{
			ChannelID:       e.channelID,
			UserID:          record.UserID,
			At:              now,
			RatingBefore:    before.Rating,
			RatingChange:    record.Rating - before.Rating,
			DeviationBefore: before.Deviation,
			DeviationChange: record.Deviation - before.Deviation,
			Reason:          "inactivity rating decay",
		})
	}
	if err := e.storage.UpsertRatings(ctx, updated); err != nil {
		return err
	}
	if err := e.storage.InsertHistory(ctx, history); err != nil {
		return err
	}
	e.logger.Info("Applied rating decay", zap.Int("changed", len(updated)))
	return nil
}

// rankFloor returns the greatest configured threshold at or below the
// rating, or 0 when none qualifies.
func (e *RatingEngine) rankFloor(ratingValue int) int {
	floor := 0
	for _, threshold := range e.config.RankThresholds {
		if threshold > ratingValue {
			break
		}
		floor = threshold
	}
	return floor
}

// Leaderboard lists the channel's ratings in descending order, skipping
// hidden players.
func (e *RatingEngine) Leaderboard(ctx context.Context, limit int) ([]RatingRecord, error) {
	records, err := e.storage.ListRatings(ctx, e.channelID, 0)
	if err != nil {
		return nil, err
	}
	visible := make([]RatingRecord, 0, len(records))
	for _, record := range records {
		if record.Hidden {
			continue
		}
		visible = append(visible, record)
		if limit > 0 && len(visible) == limit {
			break
		}
	}
	return visible, nil
}

// Undo reverses a registered ranked match: rating deltas and result
// counters are rolled back and the match's history and archive rows are
// deleted.
func (e *RatingEngine) Undo(ctx context.Context, matchID int64) error {
	archive, playerRows, err := e.storage.GetMatchArchive(ctx, e.channelID, matchID)
	if err != nil {
		return err
	}
	if archive == nil {
		return ErrMatchNotFound
	}
	if archive.Ranked {
		entries, err := e.storage.HistoryForMatch(ctx, e.channelID, matchID)
		if err != nil {
			return err
		}
		changes := make(map[string]RatingHistoryEntry, len(entries))
		for _, entry := range entries {
			changes[entry.UserID] = entry
		}

		var updated []RatingRecord
		for _, row := range playerRows {
			stored, err := e.storage.GetRatings(ctx, e.channelID, []string{row.UserID})
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				continue
			}
			record := stored[0]
			switch {
			case archive.Winner == WinnerDraw:
				record.Draws = max(record.Draws-1, 0)
			case winnerTeamIndex(archive.Winner) == row.Team:
				record.Wins = max(record.Wins-1, 0)
			default:
				record.Losses = max(record.Losses-1, 0)
			}
			if change, ok := changes[row.UserID]; ok {
				record.Rating = max(record.Rating-change.RatingChange, 0)
				record.Deviation = max(record.Deviation-change.DeviationChange, 0)
			}
			updated = append(updated, record)
		}
		if err := e.storage.UpsertRatings(ctx, updated); err != nil {
			return err
		}
		if err := e.storage.DeleteHistoryForMatch(ctx, e.channelID, matchID); err != nil {
			return err
		}
	}
	if err := e.storage.DeleteMatchArchive(ctx, e.channelID, matchID); err != nil {
		return err
	}
	e.logger.Info("Undid match", zap.Int64("match_id", matchID))
	return nil
}

func recordsToScores(records []RatingRecord) []Score {
	scores := make([]Score, len(records))
	for i, record := range records {
		scores[i] = Score{Rating: record.Rating, Deviation: record.Deviation}
	}
	return scores
}

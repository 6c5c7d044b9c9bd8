package server

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage is an in-process Storage used by tests and storage-less
// development runs. State does not survive a restart.
type MemoryStorage struct {
	sync.Mutex
	ratings   map[string]map[string]RatingRecord // channelID -> userID -> record
	history   []RatingHistoryEntry
	historyID int64
	archives  map[int64]MatchArchive
	players   map[int64][]MatchPlayerRow
	snapshots map[int64]*MatchSnapshot
	profiles  map[string]PlayerProfile
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ratings:   make(map[string]map[string]RatingRecord),
		archives:  make(map[int64]MatchArchive),
		players:   make(map[int64][]MatchPlayerRow),
		snapshots: make(map[int64]*MatchSnapshot),
		profiles:  make(map[string]PlayerProfile),
	}
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) GetRatings(_ context.Context, channelID string, userIDs []string) ([]RatingRecord, error) {
	s.Lock()
	defer s.Unlock()
	channel := s.ratings[channelID]
	records := make([]RatingRecord, 0, len(userIDs))
	for _, userID := range userIDs {
		if record, ok := channel[userID]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *MemoryStorage) ListRatings(_ context.Context, channelID string, limit int) ([]RatingRecord, error) {
	s.Lock()
	defer s.Unlock()
	records := make([]RatingRecord, 0, len(s.ratings[channelID]))
	for _, record := range s.ratings[channelID] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Rating != records[j].Rating {
			return records[i].Rating > records[j].Rating
		}
		return records[i].UserID < records[j].UserID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryStorage) UpsertRatings(_ context.Context, records []RatingRecord) error {
	s.Lock()
	defer s.Unlock()
	for _, record := range records {
		channel, ok := s.ratings[record.ChannelID]
		if !ok {
			channel = make(map[string]RatingRecord)
			s.ratings[record.ChannelID] = channel
		}
		channel[record.UserID] = record
	}
	return nil
}

func (s *MemoryStorage) DeleteRatings(_ context.Context, channelID string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.ratings, channelID)
	return nil
}

func (s *MemoryStorage) InsertHistory(_ context.Context, entries []RatingHistoryEntry) error {
	s.Lock()
	defer s.Unlock()
	for _, entry := range entries {
		s.historyID++
		entry.ID = s.historyID
		s.history = append(s.history, entry)
	}
	return nil
}

func (s *MemoryStorage) HistoryForMatch(_ context.Context, channelID string, matchID int64) ([]RatingHistoryEntry, error) {
	s.Lock()
	defer s.Unlock()
	var entries []RatingHistoryEntry
	for _, entry := range s.history {
		if entry.ChannelID == channelID && entry.MatchID != nil && *entry.MatchID == matchID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MemoryStorage) DeleteHistoryForMatch(_ context.Context, channelID string, matchID int64) error {
	s.Lock()
	defer s.Unlock()
	kept := s.history[:0]
	for _, entry := range s.history {
		if entry.ChannelID == channelID && entry.MatchID != nil && *entry.MatchID == matchID {
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return nil
}

func (s *MemoryStorage) LastMatchID(_ context.Context) (int64, error) {
	s.Lock()
	defer s.Unlock()
	var last int64
	for id := range s.archives {
		if id > last {
			last = id
		}
	}
	for id := range s.snapshots {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (s *MemoryStorage) InsertMatchArchive(_ context.Context, archive MatchArchive, players []MatchPlayerRow) error {
	s.Lock()
	defer s.Unlock()
	s.archives[archive.MatchID] = archive
	s.players[archive.MatchID] = append([]MatchPlayerRow(nil), players...)
	return nil
}

func (s *MemoryStorage) GetMatchArchive(_ context.Context, channelID string, matchID int64) (*MatchArchive, []MatchPlayerRow, error) {
	s.Lock()
	defer s.Unlock()
	archive, ok := s.archives[matchID]
	if !ok || archive.ChannelID != channelID {
		return nil, nil, ErrMatchNotFound
	}
	return &archive, append([]MatchPlayerRow(nil), s.players[matchID]...), nil
}

func (s *MemoryStorage) DeleteMatchArchive(_ context.Context, channelID string, matchID int64) error {
	s.Lock()
	defer s.Unlock()
	if archive, ok := s.archives[matchID]; ok && archive.ChannelID == channelID {
		delete(s.archives, matchID)
		delete(s.players, matchID)
	}
	return nil
}

func (s *MemoryStorage) SaveMatchSnapshot(_ context.Context, snapshot *MatchSnapshot) error {
	s.Lock()
	defer s.Unlock()
	clone := *snapshot
	s.snapshots[snapshot.MatchID] = &clone
	return nil
}

func (s *MemoryStorage) DeleteMatchSnapshot(_ context.Context, matchID int64) error {
	s.Lock()
	defer s.Unlock()
	delete(s.snapshots, matchID)
	return nil
}

func (s *MemoryStorage) ListMatchSnapshots(_ context.Context) ([]*MatchSnapshot, error) {
	s.Lock()
	defer s.Unlock()
	snapshots := make([]*MatchSnapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		clone := *snapshot
		snapshots = append(snapshots, &clone)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].MatchID < snapshots[j].MatchID })
	return snapshots, nil
}

func (s *MemoryStorage) GetProfile(_ context.Context, userID string) (*PlayerProfile, error) {
	s.Lock()
	defer s.Unlock()
	if profile, ok := s.profiles[userID]; ok {
		return &profile, nil
	}
	return nil, nil
}

func (s *MemoryStorage) UpsertProfile(_ context.Context, profile *PlayerProfile) error {
	s.Lock()
	defer s.Unlock()
	s.profiles[profile.UserID] = *profile
	return nil
}

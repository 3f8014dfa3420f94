// Package history is the archive of previously observed guild messages used
// to reconstruct bulk deletions.
package history

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type Record struct {
	MessageID     string          `json:"id"`
	GuildID       string          `json:"-"`
	ChannelID     string          `json:"-"`
	UserID        string          `json:"-"`
	Username      string          `json:"-"`
	Discriminator string          `json:"-"`
	Avatar        string          `json:"-"`
	Content       string          `json:"content"`
	Embeds        json.RawMessage `json:"embeds,omitempty"`
	CreatedAt     time.Time       `json:"-"`
}

type Store interface {
	Save(ctx context.Context, record Record) error
	Lookup(ctx context.Context, guildID string, messageIDs []string) ([]Record, error)
}

// MemStore keeps records in memory. It backs tests and deployments without
// a database.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) Save(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.MessageID] = record
	return nil
}

func (s *MemStore) Lookup(ctx context.Context, guildID string, messageIDs []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, id := range messageIDs {
		if record, ok := s.records[id]; ok && record.GuildID == guildID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

package journal

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/chain"
)

// MemoryStore keeps entries in process. Tests and the paper setup use it.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Save stores an entry, replacing a previous snapshot for the same key.
func (s *MemoryStore) Save(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

// Load reads an entry by key.
func (s *MemoryStore) Load(key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, errors.Wrap(ErrNotFound, key)
	}
	return entry, nil
}

// Len returns the number of archived entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the archived keys in no particular order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

type journalRow struct {
	Key   string `gorm:"primaryKey"`
	RunID string `gorm:"index"`
	Chain []byte
	At    time.Time
}

func (journalRow) TableName() string { return "journal_chains" }

// PgStore persists entries through gorm, chains serialized as JSON.
type PgStore struct {
	db *gorm.DB
}

// NewPgStore migrates the journal table and returns a store.
func NewPgStore(db *gorm.DB) (*PgStore, error) {
	if err := db.AutoMigrate(&journalRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal table")
	}
	return &PgStore{db: db}, nil
}

// Save upserts one entry.
func (s *PgStore) Save(entry Entry) error {
	payload, err := sonic.ConfigFastest.Marshal(entry.Chain)
	if err != nil {
		return errors.Wrap(err, "marshal chain")
	}
	row := journalRow{
		Key:   entry.Key,
		RunID: entry.RunID.String(),
		Chain: payload,
		At:    entry.At,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Load reads one entry by key.
func (s *PgStore) Load(key string) (Entry, error) {
	var row journalRow
	if err := s.db.First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, errors.Wrap(ErrNotFound, key)
		}
		return Entry{}, errors.Wrap(err, "load journal entry")
	}

	var c chain.Chain
	if err := sonic.ConfigFastest.Unmarshal(row.Chain, &c); err != nil {
		return Entry{}, errors.Wrap(err, "unmarshal chain")
	}

	runID, err := uuid.Parse(row.RunID)
	if err != nil {
		return Entry{}, errors.Wrap(err, "parse run id")
	}
	return Entry{
		RunID: runID,
		Key:   row.Key,
		Chain: c,
		At:    row.At,
	}, nil
}

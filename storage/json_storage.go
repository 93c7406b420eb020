package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"crisp-voting-client/models"
)

const receiptsFile = "receipts.json"

// Journal is the on-disk list of receipts
type Journal struct {
	Receipts []models.Receipt `json:"receipts"`
}

// JSONStore keeps the receipt journal in one JSON file, rewritten through a
// temporary file and a rename on every append.
type JSONStore struct {
	basePath string
	mu       sync.RWMutex
	journal  *Journal
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create directory")
	}

	store := &JSONStore{basePath: basePath}

	journal, err := store.loadFromFile()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load receipts")
	}
	store.journal = journal

	return store, nil
}

func (s *JSONStore) Path() string {
	return filepath.Join(s.basePath, receiptsFile)
}

func (s *JSONStore) SaveReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Journal{Receipts: make([]models.Receipt, len(s.journal.Receipts), len(s.journal.Receipts)+1)}
	copy(next.Receipts, s.journal.Receipts)
	next.Receipts = append(next.Receipts, r)

	if err := s.saveToFile(next); err != nil {
		return err
	}
	s.journal = next

	return nil
}

// Receipts returns the receipts of roundID, or all of them when roundID is
// nil, oldest first.
func (s *JSONStore) Receipts(roundID *uint64) []models.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts := make([]models.Receipt, 0, len(s.journal.Receipts))
	for _, r := range s.journal.Receipts {
		if roundID == nil || r.RoundID == *roundID {
			receipts = append(receipts, r)
		}
	}

	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].SubmittedAt.Before(receipts[j].SubmittedAt)
	})

	return receipts
}

func (s *JSONStore) loadFromFile() (*Journal, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &Journal{Receipts: make([]models.Receipt, 0)}, nil
		}
		return nil, err
	}

	var journal Journal
	if err := json.Unmarshal(data, &journal); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal receipts")
	}
	if journal.Receipts == nil {
		journal.Receipts = make([]models.Receipt, 0)
	}

	return &journal, nil
}

func (s *JSONStore) saveToFile(journal *Journal) error {
	path := s.Path()

	data, err := json.MarshalIndent(journal, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal receipts")
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write receipts file")
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to save receipts file")
	}

	return nil
}

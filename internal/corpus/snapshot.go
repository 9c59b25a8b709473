package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/embedding"
)

// Snapshot is an immutable, versioned set of reference records sorted by ID
type Snapshot struct {
	Version      string                   `json:"version"`
	ModelVersion string                   `json:"model_version"`
	Dimension    int                      `json:"dimension"`
	CreatedAt    time.Time                `json:"created_at"`
	Records      []domain.ConditionRecord `json:"records"`

	byID map[string]int
}

// NewSnapshot sorts records, validates every vector and computes the version.
// Records are copied; callers may reuse the input slice.
func NewSnapshot(modelVersion string, dimension int, records []domain.ConditionRecord, createdAt time.Time) (*Snapshot, error) {
	sorted := make([]domain.ConditionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s := &Snapshot{
		ModelVersion: modelVersion,
		Dimension:    dimension,
		CreatedAt:    createdAt.UTC(),
		Records:      sorted,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	s.Version = ComputeVersion(modelVersion, dimension, sorted)
	return s, nil
}

// RestoreSnapshot rebuilds a snapshot read back from a store that keeps
// vectors at reduced precision. The stored version is kept as is, since the
// content hash cannot be recomputed from the rounded vectors.
func RestoreSnapshot(version, modelVersion string, dimension int, records []domain.ConditionRecord, createdAt time.Time) (*Snapshot, error) {
	sorted := make([]domain.ConditionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s := &Snapshot{
		Version:      version,
		ModelVersion: modelVersion,
		Dimension:    dimension,
		CreatedAt:    createdAt.UTC(),
		Records:      sorted,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init validates records and builds the ID lookup
func (s *Snapshot) init() error {
	if len(s.Records) == 0 {
		return ErrEmptyCorpus
	}

	s.byID = make(map[string]int, len(s.Records))
	for i, r := range s.Records {
		if i > 0 && s.Records[i-1].ID >= r.ID {
			return fmt.Errorf("records not sorted or duplicate id %q", r.ID)
		}
		if !r.Condition.Valid() {
			return fmt.Errorf("record %s: unknown condition %q", r.ID, r.Condition)
		}
		if err := embedding.ValidateStored(r.Embedding, s.Dimension); err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		s.byID[r.ID] = i
	}
	return nil
}

// Record returns the record with id
func (s *Snapshot) Record(id string) (domain.ConditionRecord, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.ConditionRecord{}, false
	}
	return s.Records[i], true
}

func (s *Snapshot) Len() int {
	return len(s.Records)
}

// ConditionCounts returns the number of records per label
func (s *Snapshot) ConditionCounts() map[domain.ConditionLabel]int {
	counts := make(map[domain.ConditionLabel]int)
	for _, r := range s.Records {
		counts[r.Condition]++
	}
	return counts
}

// ComputeVersion hashes the model space and every record's content. Build
// timestamps are excluded, so an unchanged labeled set keeps its version.
func ComputeVersion(modelVersion string, dimension int, records []domain.ConditionRecord) string {
	h := sha256.New()

	writeString := func(s string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	writeString(modelVersion)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(dimension))
	h.Write(buf[:])

	for _, r := range records {
		writeString(r.ID)
		writeString(string(r.Condition))
		writeString(string(r.Severity))
		writeString(string(r.Demographics.Age))
		writeString(string(r.Demographics.Ethnicity))
		writeString(string(r.Demographics.SkinType))
		writeString(r.Source)
		for _, x := range r.Embedding {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			h.Write(buf[:])
		}
	}

	return "v-" + hex.EncodeToString(h.Sum(nil))[:16]
}

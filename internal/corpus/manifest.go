package corpus

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// ManifestEntry is one labeled image of the build manifest
type ManifestEntry struct {
	ID              string `json:"id" validate:"omitempty,max=128,printascii"`
	Path            string `json:"path" validate:"required"`
	Condition       string `json:"condition" validate:"required,condition"`
	Severity        string `json:"severity" validate:"omitempty,severity"`
	AgeBucket       string `json:"age_bucket" validate:"age_bucket"`
	EthnicityBucket string `json:"ethnicity_bucket" validate:"ethnicity_bucket"`
	SkinType        string `json:"skin_type" validate:"skin_type"`
	Source          string `json:"source"`

	// Line is the 1-based row (CSV) or element (JSON) the entry came from
	Line int `json:"-"`
}

var manifestColumns = []string{"id", "path", "condition", "severity", "age_bucket", "ethnicity_bucket", "skin_type", "source"}

// LoadManifest reads a CSV (header row) or JSON array manifest, chosen by
// file extension.
func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSVManifest(bytes.NewReader(data))
	case ".json":
		return ParseJSONManifest(data)
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q (want .csv or .json)", filepath.Ext(path))
	}
}

// ParseCSVManifest parses a manifest with a header row. Only path and
// condition columns are required; column order is free.
func ParseCSVManifest(r io.Reader) ([]ManifestEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"path", "condition"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("manifest header missing %q column", required)
		}
	}

	var entries []ManifestEntry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		entries = append(entries, ManifestEntry{
			ID:              field("id"),
			Path:            field("path"),
			Condition:       field("condition"),
			Severity:        field("severity"),
			AgeBucket:       field("age_bucket"),
			EthnicityBucket: field("ethnicity_bucket"),
			SkinType:        field("skin_type"),
			Source:          field("source"),
			Line:            line,
		})
	}

	return entries, nil
}

// ParseJSONManifest parses a JSON array of entries
func ParseJSONManifest(data []byte) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for i := range entries {
		entries[i].Line = i + 1
	}
	return entries, nil
}

var validate = newManifestValidator()

func newManifestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("condition", func(fl validator.FieldLevel) bool {
		return domain.ConditionLabel(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseAnnotatedSeverity(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("age_bucket", func(fl validator.FieldLevel) bool {
		return domain.AgeBucket(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("ethnicity_bucket", func(fl validator.FieldLevel) bool {
		return domain.EthnicityBucket(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("skin_type", func(fl validator.FieldLevel) bool {
		return domain.SkinType(fl.Field().String()).Valid()
	})
	return v
}

// labeledEntry is a validated manifest entry with parsed labels
type labeledEntry struct {
	ID           string
	Path         string
	Condition    domain.ConditionLabel
	Severity     domain.Severity
	Demographics domain.Demographics
	Source       string
	Line         int
}

// normalize trims and lowercases the enum columns
func (e ManifestEntry) normalize() ManifestEntry {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	e.ID = strings.TrimSpace(e.ID)
	e.Path = strings.TrimSpace(e.Path)
	e.Condition = lower(e.Condition)
	e.Severity = lower(e.Severity)
	e.AgeBucket = strings.TrimSpace(e.AgeBucket)
	e.EthnicityBucket = lower(e.EthnicityBucket)
	e.SkinType = lower(e.SkinType)
	e.Source = strings.TrimSpace(e.Source)
	return e
}

// label validates e and resolves its record ID
func (e ManifestEntry) label() (labeledEntry, error) {
	e = e.normalize()
	if err := validate.Struct(e); err != nil {
		return labeledEntry{}, err
	}

	condition := domain.ConditionLabel(e.Condition)
	severity, _ := domain.ParseAnnotatedSeverity(e.Severity)

	// Healthy records carry severity none; a condition cannot be annotated none
	switch {
	case condition == domain.ConditionHealthy && severity == domain.SeverityUnspecified:
		severity = domain.SeverityNone
	case condition == domain.ConditionHealthy && severity != domain.SeverityNone:
		return labeledEntry{}, fmt.Errorf("healthy record annotated with severity %q", severity)
	case condition != domain.ConditionHealthy && severity == domain.SeverityNone:
		return labeledEntry{}, fmt.Errorf("condition %q annotated with severity none", condition)
	}

	id := e.ID
	if id == "" {
		id = RecordID(e.Path)
	}

	return labeledEntry{
		ID:        id,
		Path:      e.Path,
		Condition: condition,
		Severity:  severity,
		Demographics: domain.Demographics{
			Age:       domain.AgeBucket(e.AgeBucket),
			Ethnicity: domain.EthnicityBucket(e.EthnicityBucket),
			SkinType:  domain.SkinType(e.SkinType),
		},
		Source: e.Source,
		Line:   e.Line,
	}, nil
}

// RecordID derives a stable record ID from an image path
func RecordID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "rec-" + hex.EncodeToString(sum[:])[:16]
}

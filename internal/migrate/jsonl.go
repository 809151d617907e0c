// Package migrate moves records between a pawsync database and JSONL
// files, for device migration and plain backups.
//
// The JSONL format is one record per line, each wrapped in an envelope
// naming the entity kind, so pets and medications share one file and
// import can route lines without guessing.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/repo"
)

// Line is the JSONL envelope: the kind tag routes the record on import.
type Line struct {
	Kind model.EntityKind `json:"kind"`
	Data json.RawMessage  `json:"data"`
}

// ExportResult contains statistics about an export.
type ExportResult struct {
	Pets        int
	Medications int
}

// ImportOptions configures an import run.
type ImportOptions struct {
	// DryRun parses and validates without writing to the store.
	DryRun bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Pets        int
	Medications int
	Skipped     int
	// Errors collects per-line failures; a bad line never aborts the
	// run.
	Errors []string
}

// Migrator reads and writes records through the repositories, so
// imported entities pass the same validation as user edits.
type Migrator struct {
	pets *repo.PetRepo
	meds *repo.MedicationRepo
}

// New creates a migrator over the given repositories.
func New(pets *repo.PetRepo, meds *repo.MedicationRepo) *Migrator {
	return &Migrator{pets: pets, meds: meds}
}

// Export writes all pets and medications to w as JSONL.
func (m *Migrator) Export(ctx context.Context, w io.Writer) (*ExportResult, error) {
	result := &ExportResult{}
	enc := json.NewEncoder(w)

	pets, err := m.pets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pets: %w", err)
	}
	for _, pet := range pets {
		if err := writeLine(enc, model.KindPet, pet); err != nil {
			return nil, err
		}
		result.Pets++
	}

	meds, err := m.meds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	for _, med := range meds {
		if err := writeLine(enc, model.KindMedication, med); err != nil {
			return nil, err
		}
		result.Medications++
	}

	return result, nil
}

// ExportFile exports to path, writing atomically via a temp file.
func (m *Migrator) ExportFile(ctx context.Context, path string) (*ExportResult, error) {
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	result, err := m.Export(ctx, f)
	if err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// Import reads JSONL from r and applies records through the
// repositories. Records are applied, not saved, so an import does not
// bump revision counters or look like local edits.
func (m *Migrator) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("invalid JSON at line %d: %v", lineNum, err))
			continue
		}

		switch line.Kind {
		case model.KindPet:
			var pet model.Pet
			if err := json.Unmarshal(line.Data, &pet); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("invalid pet at line %d: %v", lineNum, err))
				continue
			}
			if pet.CreatedAt.IsZero() {
				pet.CreatedAt = time.Now().UTC()
			}
			if !opts.DryRun {
				if err := m.pets.Apply(ctx, &pet); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("failed to import pet %s: %v", pet.ID, err))
					continue
				}
			}
			result.Pets++

		case model.KindMedication:
			var med model.Medication
			if err := json.Unmarshal(line.Data, &med); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("invalid medication at line %d: %v", lineNum, err))
				continue
			}
			if !opts.DryRun {
				if err := m.meds.Apply(ctx, &med); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("failed to import medication %s: %v", med.ID, err))
					continue
				}
			}
			result.Medications++

		default:
			result.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read input: %w", err)
	}

	return result, nil
}

// ImportFile imports from path.
func (m *Migrator) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	return m.Import(ctx, f, opts)
}

func writeLine(enc *json.Encoder, kind model.EntityKind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	if err := enc.Encode(Line{Kind: kind, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s line: %w", kind, err)
	}
	return nil
}

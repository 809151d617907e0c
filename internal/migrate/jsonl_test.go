package migrate

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/repo"
	"github.com/vetlabs/pawsync/internal/store"
)

func setupMigrator(t *testing.T) (*Migrator, *repo.PetRepo, *repo.MedicationRepo) {
	t.Helper()

	s := store.New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = s.Close() })

	pets := repo.NewPetRepo(s)
	meds := repo.NewMedicationRepo(s)
	return New(pets, meds), pets, meds
}

func TestExportImportRoundTrip(t *testing.T) {
	src, pets, meds := setupMigrator(t)
	ctx := context.Background()

	if err := pets.Save(ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := pets.Save(ctx, &model.Pet{ID: "pet-2", OwnerID: "u", Name: "Milo", Species: "cat"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := meds.Save(ctx, &model.Medication{ID: "med-1", PetID: "pet-1", Name: "Carprofen", Active: true}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var buf bytes.Buffer
	exported, err := src.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exported.Pets != 2 || exported.Medications != 1 {
		t.Fatalf("exported = %+v", exported)
	}

	dst, dstPets, dstMeds := setupMigrator(t)
	imported, err := dst.Import(ctx, &buf, ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported.Pets != 2 || imported.Medications != 1 || len(imported.Errors) != 0 {
		t.Fatalf("imported = %+v", imported)
	}

	pet, err := dstPets.Get(ctx, "pet-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pet.Name != "Rex" {
		t.Errorf("imported pet = %+v", pet)
	}
	med, err := dstMeds.Get(ctx, "med-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if med.Name != "Carprofen" || !med.Active {
		t.Errorf("imported medication = %+v", med)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	m, pets, _ := setupMigrator(t)
	ctx := context.Background()

	input := `{"kind":"pet","data":{"id":"pet-1","owner_id":"u","name":"Rex","species":"dog"}}` + "\n"
	result, err := m.Import(ctx, strings.NewReader(input), ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Pets != 1 {
		t.Errorf("result = %+v", result)
	}

	if _, err := pets.Get(ctx, "pet-1"); !store.IsNotFound(err) {
		t.Errorf("dry run wrote to the store, err = %v", err)
	}
}

func TestImportCollectsBadLines(t *testing.T) {
	m, pets, _ := setupMigrator(t)
	ctx := context.Background()

	input := strings.Join([]string{
		`{"kind":"pet","data":{"id":"pet-1","owner_id":"u","name":"Rex","species":"dog"}}`,
		`{not json`,
		`{"kind":"pet","data":{"id":"","owner_id":"","name":"","species":""}}`,
		`{"kind":"unknown","data":{}}`,
	}, "\n")

	result, err := m.Import(ctx, strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Pets != 1 {
		t.Errorf("Pets = %d, want 1", result.Pets)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if len(result.Errors) != 2 {
		t.Errorf("Errors = %v", result.Errors)
	}

	// The good line still landed.
	if _, err := pets.Get(ctx, "pet-1"); err != nil {
		t.Errorf("valid line not imported: %v", err)
	}
}

func TestExportFileAtomic(t *testing.T) {
	m, pets, _ := setupMigrator(t)
	ctx := context.Background()

	if err := pets.Save(ctx, &model.Pet{ID: "pet-1", OwnerID: "u", Name: "Rex", Species: "dog"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "export.jsonl")
	result, err := m.ExportFile(ctx, path)
	if err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if result.Pets != 1 {
		t.Errorf("result = %+v", result)
	}

	imported, err := m.ImportFile(ctx, path, ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if imported.Pets != 1 {
		t.Errorf("imported = %+v", imported)
	}
}

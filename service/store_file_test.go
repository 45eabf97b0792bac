package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/cerfaflow/model"
)

func TestFileStore(t *testing.T) {
	testRepository(t, func(t *testing.T) ContractRepository {
		return NewFileStore(filepath.Join(t.TempDir(), "data", "contracts.json"))
	})
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "contracts.json")

	c := newTestContract("c1", time.Now())
	c.SetData(model.RoleEmployer, map[string]any{"siret": "123"})
	if err := NewFileStore(path).Create(ctx, c); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	for _, want := range []string{`"contracts"`, `"c1"`, `"entreprise": {`, `"etudiant": null`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("Expected %s in file:\n%s", want, raw)
		}
	}

	// A second store on the same file sees the contract
	got, role, err := NewFileStore(path).GetByToken(ctx, "c1-entreprise")
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if got.ID != "c1" || role != model.RoleEmployer || got.Employer["siret"] != "123" {
		t.Errorf("Unexpected reloaded contract: %+v (%s)", got, role)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	store := NewFileStore(path)
	if _, err := store.List(context.Background()); err == nil {
		t.Error("Expected error for corrupt file")
	}
	if err := store.Create(context.Background(), newTestContract("c1", time.Now())); err == nil {
		t.Error("Expected create to refuse overwriting a corrupt file")
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	list, err := NewFileStore(path).List(context.Background())
	if err != nil {
		t.Fatalf("Expected empty file to be accepted, got %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no contracts, got %d", len(list))
	}
}

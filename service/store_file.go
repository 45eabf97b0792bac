package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AnTengye/cerfaflow/model"
)

// fileDocument is the on-disk layout: {"contracts": {"<id>": {...}}}.
type fileDocument struct {
	Contracts map[string]*model.Contract `json:"contracts"`
}

// FileStore keeps every contract in a single JSON file, re-read on each call
// and rewritten atomically on each mutation.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ ContractRepository = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	slog.Info("contract store initialized", "driver", "file", "path", path)
	return &FileStore{path: path}
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Contracts: make(map[string]*model.Contract)}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := unmarshalJSON(raw, doc); err != nil {
		return nil, fmt.Errorf("failed to parse contract file %s: %w", s.path, err)
	}
	if doc.Contracts == nil {
		doc.Contracts = make(map[string]*model.Contract)
	}
	return doc, nil
}

func (s *FileStore) save(doc *fileDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode contracts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".contracts-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write contracts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write contracts: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace contract file: %w", err)
	}
	return nil
}

func (s *FileStore) Create(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := doc.Contracts[c.ID]; exists {
		return ErrAlreadyExists
	}
	doc.Contracts[c.ID] = c
	return s.save(doc)
}

func (s *FileStore) Get(_ context.Context, id string) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	c, ok := doc.Contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *FileStore) GetByToken(_ context.Context, token string) (*model.Contract, model.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, "", err
	}
	for _, c := range doc.Contracts {
		if role, ok := c.RoleForToken(token); ok {
			return c, role, nil
		}
	}
	return nil, "", ErrNotFound
}

func (s *FileStore) List(_ context.Context) ([]*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	result := make([]*model.Contract, 0, len(doc.Contracts))
	for _, c := range doc.Contracts {
		result = append(result, c)
	}
	sortContracts(result)
	return result, nil
}

func (s *FileStore) Update(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Contracts[c.ID]; !ok {
		return ErrNotFound
	}
	doc.Contracts[c.ID] = c
	return s.save(doc)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Contracts[id]; !ok {
		return ErrNotFound
	}
	delete(doc.Contracts, id)
	return s.save(doc)
}

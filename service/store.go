package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AnTengye/cerfaflow/model"
)

type tokenRef struct {
	contractID string
	role       model.Role
}

// ContractStore is an in-memory store for contracts
// Contents are lost on restart; use the file, redis or sql drivers to keep them
type ContractStore struct {
	contracts    map[string]*model.Contract
	tokens       map[string]tokenRef
	mu           sync.RWMutex
	maxContracts int // Maximum contracts to keep, 0 = unlimited
}

var _ ContractRepository = (*ContractStore)(nil)

// NewContractStore creates an in-memory store keeping at most maxContracts contracts
func NewContractStore(maxContracts int) *ContractStore {
	if maxContracts < 0 {
		maxContracts = 0
	}
	slog.Info("contract store initialized", "driver", "memory", "max_contracts", maxContracts)
	return &ContractStore{
		contracts:    make(map[string]*model.Contract),
		tokens:       make(map[string]tokenRef),
		maxContracts: maxContracts,
	}
}

func (s *ContractStore) Create(_ context.Context, contract *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[contract.ID]; exists {
		return ErrAlreadyExists
	}
	s.put(contract.Clone())

	// Cleanup if exceeds max
	s.cleanupIfNeeded()
	return nil
}

func (s *ContractStore) Get(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *ContractStore) GetByToken(_ context.Context, token string) (*model.Contract, model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.tokens[token]
	if !ok {
		return nil, "", ErrNotFound
	}
	c, ok := s.contracts[ref.contractID]
	if !ok {
		return nil, "", ErrNotFound
	}
	return c.Clone(), ref.role, nil
}

func (s *ContractStore) List(_ context.Context) ([]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		result = append(result, c.Clone())
	}
	sortContracts(result)
	return result, nil
}

func (s *ContractStore) Update(_ context.Context, contract *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.contracts[contract.ID]
	if !ok {
		return ErrNotFound
	}
	s.dropTokens(old)
	s.put(contract.Clone())
	return nil
}

func (s *ContractStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return ErrNotFound
	}
	s.dropTokens(c)
	delete(s.contracts, id)
	return nil
}

// Count returns the number of contracts in the store
func (s *ContractStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contracts)
}

// Must be called with lock held
func (s *ContractStore) put(c *model.Contract) {
	s.contracts[c.ID] = c
	s.tokens[c.Tokens.Student] = tokenRef{contractID: c.ID, role: model.RoleStudent}
	s.tokens[c.Tokens.Employer] = tokenRef{contractID: c.ID, role: model.RoleEmployer}
}

// Must be called with lock held
func (s *ContractStore) dropTokens(c *model.Contract) {
	delete(s.tokens, c.Tokens.Student)
	delete(s.tokens, c.Tokens.Employer)
}

// cleanupIfNeeded removes oldest contracts if store exceeds maxContracts
// Must be called with lock held
func (s *ContractStore) cleanupIfNeeded() {
	if s.maxContracts <= 0 {
		return // Unlimited
	}

	if len(s.contracts) <= s.maxContracts {
		return
	}

	contracts := make([]*model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		contracts = append(contracts, c)
	}
	sortContracts(contracts)

	// Remove oldest contracts
	removeCount := len(contracts) - s.maxContracts
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old contract",
			"contract_id", contracts[i].ID,
			"created_at", contracts[i].CreatedAt,
		)
		s.dropTokens(contracts[i])
		delete(s.contracts, contracts[i].ID)
	}
}

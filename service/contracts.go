package service

import (
	"context"
	"fmt"
	"time"

	"github.com/AnTengye/cerfaflow/model"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/google/uuid"
)

// ContractService implements the contract lifecycle on top of a repository.
type ContractService struct {
	repo ContractRepository
}

func NewContractService(repo ContractRepository) *ContractService {
	return &ContractService{repo: repo}
}

// NewContract returns a pending contract with a fresh id and one token per party.
func NewContract() *model.Contract {
	return &model.Contract{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    model.StatusPending,
		Tokens: model.Tokens{
			Student:  uuid.New().String(),
			Employer: uuid.New().String(),
		},
	}
}

func (s *ContractService) Create(ctx context.Context) (*model.Contract, error) {
	c := NewContract()
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}
	logger.Info(logger.WithContract(ctx, c.ID, ""), "contract created")
	return c, nil
}

func (s *ContractService) List(ctx context.Context) ([]*model.Contract, error) {
	return s.repo.List(ctx)
}

func (s *ContractService) Get(ctx context.Context, id string) (*model.Contract, error) {
	return s.repo.Get(ctx, id)
}

// ResolveToken returns the contract and the role a token grants.
func (s *ContractService) ResolveToken(ctx context.Context, token string) (*model.Contract, model.Role, error) {
	return s.repo.GetByToken(ctx, token)
}

// Submit stores data as the submission of role. The token must belong to
// that role; a token of the other party is treated as unknown.
func (s *ContractService) Submit(ctx context.Context, role model.Role, token string, data map[string]any) (*model.Contract, error) {
	c, tokenRole, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if tokenRole != role {
		return nil, ErrNotFound
	}
	if data == nil {
		data = map[string]any{}
	}

	c.SetData(role, data)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	logger.Info(logger.WithContract(ctx, c.ID, string(role)), "submission stored",
		"status", c.Status,
		"keys", len(data),
	)
	return c, nil
}

func (s *ContractService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info(logger.WithContract(ctx, id, ""), "contract deleted")
	return nil
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/model"
)

var (
	// ErrNotFound is returned for unknown contract ids and tokens.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a contract whose id is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ContractRepository persists contracts together with their token index.
// Writes are last-write-wins per contract id.
type ContractRepository interface {
	Create(ctx context.Context, c *model.Contract) error
	Get(ctx context.Context, id string) (*model.Contract, error)
	GetByToken(ctx context.Context, token string) (*model.Contract, model.Role, error)
	List(ctx context.Context) ([]*model.Contract, error)
	Update(ctx context.Context, c *model.Contract) error
	// Delete removes the contract and both of its tokens.
	Delete(ctx context.Context, id string) error
}

// NewContractRepository opens the backend selected by cfg.Driver. The
// returned function releases its connections.
func NewContractRepository(ctx context.Context, cfg *config.StoreConfig) (ContractRepository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewContractStore(cfg.MaxContracts), noop, nil
	case config.DriverFile:
		return NewFileStore(cfg.FilePath), noop, nil
	case config.DriverRedis:
		store, err := NewRedisStore(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.DriverSQLite, config.DriverPostgres:
		store, err := OpenSQLStore(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// sortContracts orders contracts by creation time, oldest first.
func sortContracts(contracts []*model.Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].CreatedAt.Equal(contracts[j].CreatedAt) {
			return contracts[i].ID < contracts[j].ID
		}
		return contracts[i].CreatedAt.Before(contracts[j].CreatedAt)
	})
}

// unmarshalJSON decodes numbers as json.Number so that identifiers such as
// SIRET keep every digit.
func unmarshalJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeContract(raw []byte) (*model.Contract, error) {
	var c model.Contract
	if err := unmarshalJSON(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode contract: %w", err)
	}
	return &c, nil
}

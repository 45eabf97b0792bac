package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps contracts in two hashes: <prefix>contracts maps id to the
// contract JSON and <prefix>tokens maps token to "<id>:<role>".
// There is no compare-and-swap; concurrent writers on one contract race.
type RedisStore struct {
	client       *redis.Client
	contractsKey string
	tokensKey    string
}

var _ ContractRepository = (*RedisStore)(nil)

// NewRedisStore connects to redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("contract store initialized", "driver", "redis", "addr", cfg.Addr, "prefix", cfg.Prefix)
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:       client,
		contractsKey: prefix + "contracts",
		tokensKey:    prefix + "tokens",
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func tokenValue(id string, role model.Role) string {
	return id + ":" + string(role)
}

// createRetries bounds the optimistic retries when another writer touches
// the contracts hash between WATCH and EXEC.
const createRetries = 5

// Create writes the contract and both token entries in one MULTI/EXEC.
func (s *RedisStore) Create(ctx context.Context, c *model.Contract) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, s.contractsKey, c.ID).Result()
		if err != nil {
			return fmt.Errorf("failed to read contract: %w", err)
		}
		if exists {
			return ErrAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.contractsKey, c.ID, raw)
			pipe.HSet(ctx, s.tokensKey,
				c.Tokens.Student, tokenValue(c.ID, model.RoleStudent),
				c.Tokens.Employer, tokenValue(c.ID, model.RoleEmployer),
			)
			return nil
		})
		return err
	}

	for i := 0; i < createRetries; i++ {
		err = s.client.Watch(ctx, txf, s.contractsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists):
		return err
	default:
		return fmt.Errorf("failed to store contract: %w", err)
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Contract, error) {
	raw, err := s.client.HGet(ctx, s.contractsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contract: %w", err)
	}
	return decodeContract(raw)
}

func (s *RedisStore) GetByToken(ctx context.Context, token string) (*model.Contract, model.Role, error) {
	ref, err := s.client.HGet(ctx, s.tokensKey, token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read token: %w", err)
	}

	id, role, ok := strings.Cut(ref, ":")
	if !ok || !model.Role(role).Valid() {
		return nil, "", fmt.Errorf("malformed token entry %q", ref)
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return c, model.Role(role), nil
}

func (s *RedisStore) List(ctx context.Context) ([]*model.Contract, error) {
	all, err := s.client.HGetAll(ctx, s.contractsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	result := make([]*model.Contract, 0, len(all))
	for id, raw := range all {
		c, err := decodeContract([]byte(raw))
		if err != nil {
			slog.Warn("skipping unreadable contract", "contract_id", id, "error", err)
			continue
		}
		result = append(result, c)
	}
	sortContracts(result)
	return result, nil
}

func (s *RedisStore) Update(ctx context.Context, c *model.Contract) error {
	exists, err := s.client.HExists(ctx, s.contractsKey, c.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to read contract: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contract: %w", err)
	}
	if err := s.client.HSet(ctx, s.contractsKey, c.ID, raw).Err(); err != nil {
		return fmt.Errorf("failed to store contract: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.contractsKey, id)
		pipe.HDel(ctx, s.tokensKey, c.Tokens.Student, c.Tokens.Employer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	return nil
}

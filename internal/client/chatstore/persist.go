package chatstore

import (
	"context"
	"errors"

	"github.com/cloudzz-dev/cldzchat/internal/client/session"
	"github.com/go-redis/redis/v8"
)

// VaultPersister keeps the state in the profile's encrypted vault.
type VaultPersister struct {
	vault *session.Vault
}

func NewVaultPersister(v *session.Vault) *VaultPersister {
	return &VaultPersister{vault: v}
}

func (p *VaultPersister) Load(_ context.Context, key string) ([]byte, error) {
	data, err := p.vault.Get(key)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (p *VaultPersister) Save(_ context.Context, key string, data []byte) error {
	return p.vault.Put(key, data)
}

// RedisPersister keeps the state in redis, for clients sharing one profile
// across machines.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

func NewRedisPersister(client *redis.Client, prefix string) *RedisPersister {
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (p *RedisPersister) Save(ctx context.Context, key string, data []byte) error {
	return p.client.Set(ctx, p.prefix+key, data, 0).Err()
}

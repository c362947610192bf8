package watermark

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// KeyLastOpened is the key the watermark is stored under in a KV backend.
const KeyLastOpened = "session:last_opened"

// KV is the slice of the persistent store the watermark needs.
type KV interface {
	GetValue(ctx context.Context, key string) (json.RawMessage, error)
	PutValue(ctx context.Context, key string, value json.RawMessage) error
}

// KVStore keeps the watermark in a key-value table.
type KVStore struct {
	kv  KV
	key string
}

// NewKVStore returns a store using KeyLastOpened.
func NewKVStore(kv KV) *KVStore {
	return &KVStore{kv: kv, key: KeyLastOpened}
}

func (s *KVStore) Get(ctx context.Context) (int64, error) {
	raw, err := s.kv.GetValue(ctx, s.key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("corrupt watermark %q: %w", raw, err)
	}
	return v, nil
}

func (s *KVStore) Put(ctx context.Context, ts int64) error {
	return s.kv.PutValue(ctx, s.key, json.RawMessage(strconv.FormatInt(ts, 10)))
}

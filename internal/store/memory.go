package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MemoryStore is an in-process DocumentStore with the same optimistic
// versioning as DynamoStore. It backs local runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[Key]map[string]types.AttributeValue
	opts TxOptions
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts TxOptions) *MemoryStore {
	return &MemoryStore{
		docs: map[Key]map[string]types.AttributeValue{},
		opts: opts,
	}
}

// Put writes doc unconditionally, bumping its version. Used for seeding
// catalog data that is managed outside the order flow.
func (s *MemoryStore) Put(key Key, doc any) error {
	if err := key.validate(); err != nil {
		return err
	}
	item, err := encode(key, doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item[AttrVersion] = numberAttr(versionOf(s.docs[key]) + 1)
	s.docs[key] = item
	return nil
}

// Count returns the number of documents in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.docs {
		if k.Collection == collection {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Get(ctx context.Context, key Key, out any) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	item := s.snapshot(key)
	if item == nil {
		return false, nil
	}
	return true, decode(key, item, out)
}

func (s *MemoryStore) FindOne(ctx context.Context, collection, field, value string, out any) (bool, error) {
	s.mu.Lock()
	var ids []string
	for k, item := range s.docs {
		if k.Collection != collection {
			continue
		}
		if sv, ok := item[field].(*types.AttributeValueMemberS); ok && sv.Value == value {
			ids = append(ids, k.ID)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return false, nil
	}
	// lowest id wins so duplicates resolve deterministically
	slices.Sort(ids)
	return s.Get(ctx, Key{Collection: collection, ID: ids[0]}, out)
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return withRetry(ctx, s.opts, func(ctx context.Context) error {
		tx := &memoryTx{txState: newTxState(), store: s}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(tx.txState)
	})
}

func (s *MemoryStore) snapshot(key Key) map[string]types.AttributeValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.docs[key]
	if !ok {
		return nil
	}
	return maps.Clone(item)
}

func (s *MemoryStore) commit(t *txState) error {
	if len(t.writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range t.reads {
		current, exists := s.docs[key]
		if exists != r.exists || (exists && versionOf(current) != r.version) {
			return fmt.Errorf("%w: %s changed", ErrConflict, key)
		}
	}

	staged := make(map[Key]map[string]types.AttributeValue, len(t.writes))
	for _, w := range t.writes {
		current, exists := s.docs[w.key]
		_, wasRead := t.reads[w.key]
		switch w.kind {
		case opCreate:
			if exists {
				// the key was unread, otherwise the read check above caught it
				return fmt.Errorf("%w: %s", ErrAlreadyExists, w.key)
			}
			staged[w.key] = w.item
		case opPut:
			staged[w.key] = w.item
		case opUpdate:
			if !exists {
				if wasRead {
					return fmt.Errorf("%w: %s changed", ErrConflict, w.key)
				}
				return fmt.Errorf("%w: %s", ErrNotFound, w.key)
			}
			next, err := applyMutation(current, w.mutation)
			if err != nil {
				return fmt.Errorf("update %s: %w", w.key, err)
			}
			staged[w.key] = next
		}
	}

	for key, item := range staged {
		s.docs[key] = item
	}
	return nil
}

func applyMutation(current map[string]types.AttributeValue, m Mutation) (map[string]types.AttributeValue, error) {
	next := maps.Clone(current)
	for field, delta := range m.Increment {
		var base int64
		if av, ok := next[field]; ok {
			n, ok := av.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("field %q is not numeric", field)
			}
			v, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q is not an integer: %w", field, err)
			}
			base = v
		}
		next[field] = numberAttr(base + delta)
	}
	for field, value := range m.Set {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", field, err)
		}
		next[field] = av
	}
	next[AttrVersion] = numberAttr(versionOf(current) + 1)
	return next, nil
}

type memoryTx struct {
	*txState
	store *MemoryStore
}

func (tx *memoryTx) Get(ctx context.Context, key Key, out any) (bool, error) {
	if err := tx.beforeRead(key); err != nil {
		return false, err
	}
	item := tx.store.snapshot(key)
	tx.observe(key, item)
	if item == nil {
		return false, nil
	}
	return true, decode(key, item, out)
}

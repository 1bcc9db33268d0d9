package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	errReadAfterWrite = errors.New("store: read of a key already written in this transaction")
	errDoubleWrite    = errors.New("store: key written twice in one transaction")
	errSetWithoutRead = errors.New("store: Set requires the key to be read first")
)

type opKind int

const (
	opCreate opKind = iota
	opPut
	opUpdate
)

// readState is the snapshot a transaction observed for one key.
type readState struct {
	exists  bool
	version int64
}

type pendingWrite struct {
	kind     opKind
	key      Key
	item     map[string]types.AttributeValue
	mutation Mutation
}

// txState buffers reads and writes; both store implementations commit it.
type txState struct {
	reads   map[Key]readState
	writes  []pendingWrite
	written map[Key]bool
}

func newTxState() *txState {
	return &txState{
		reads:   map[Key]readState{},
		written: map[Key]bool{},
	}
}

func (t *txState) beforeRead(key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	if t.written[key] {
		return fmt.Errorf("%w: %s", errReadAfterWrite, key)
	}
	return nil
}

// observe records what a read returned so the commit can verify it.
func (t *txState) observe(key Key, item map[string]types.AttributeValue) {
	if len(item) == 0 {
		t.reads[key] = readState{}
		return
	}
	t.reads[key] = readState{exists: true, version: versionOf(item)}
}

func (t *txState) beforeWrite(key Key) error {
	if err := key.validate(); err != nil {
		return err
	}
	if t.written[key] {
		return fmt.Errorf("%w: %s", errDoubleWrite, key)
	}
	return nil
}

func (t *txState) Create(key Key, doc any) error {
	if err := t.beforeWrite(key); err != nil {
		return err
	}
	if r, ok := t.reads[key]; ok && r.exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	item, err := encode(key, doc)
	if err != nil {
		return err
	}
	item[AttrVersion] = numberAttr(1)
	t.written[key] = true
	t.writes = append(t.writes, pendingWrite{kind: opCreate, key: key, item: item})
	return nil
}

func (t *txState) Set(key Key, doc any) error {
	if err := t.beforeWrite(key); err != nil {
		return err
	}
	r, ok := t.reads[key]
	if !ok {
		return fmt.Errorf("%w: %s", errSetWithoutRead, key)
	}
	if !r.exists {
		return t.Create(key, doc)
	}
	item, err := encode(key, doc)
	if err != nil {
		return err
	}
	item[AttrVersion] = numberAttr(r.version + 1)
	t.written[key] = true
	t.writes = append(t.writes, pendingWrite{kind: opPut, key: key, item: item})
	return nil
}

func (t *txState) Update(key Key, m Mutation) error {
	if err := t.beforeWrite(key); err != nil {
		return err
	}
	if m.empty() {
		return nil
	}
	if r, ok := t.reads[key]; ok && !r.exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	for field := range m.Increment {
		if reserved(field) {
			return fmt.Errorf("store: field %q is managed by the store", field)
		}
	}
	for field := range m.Set {
		if reserved(field) {
			return fmt.Errorf("store: field %q is managed by the store", field)
		}
	}
	t.written[key] = true
	t.writes = append(t.writes, pendingWrite{kind: opUpdate, key: key, mutation: m})
	return nil
}

// readOnly returns the keys that were read but not written.
func (t *txState) readOnly() []Key {
	var keys []Key
	for k := range t.reads {
		if !t.written[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

func encode(key Key, doc any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	item[AttrID] = &types.AttributeValueMemberS{Value: key.ID}
	return item, nil
}

func decode(key Key, item map[string]types.AttributeValue, out any) error {
	if out == nil {
		return nil
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func reserved(field string) bool { return field == AttrID || field == AttrVersion }

// versionOf treats documents written outside the store (no version attribute) as version 0.
func versionOf(item map[string]types.AttributeValue) int64 {
	n, ok := item[AttrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func numberAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

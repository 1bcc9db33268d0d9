package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/bookstore-orderflow/internal/aws"
)

// DynamoConfig maps collections onto tables. Indexes maps
// "collection.field" to the name of a GSI whose partition key is field.
type DynamoConfig struct {
	Tables    map[string]string
	Indexes   map[string]string
	TxOptions TxOptions
}

// DynamoStore implements DocumentStore on DynamoDB. Every table uses a
// string partition key named "id".
type DynamoStore struct {
	client  aws.DynamoDBAPI
	tables  map[string]string
	indexes map[string]string
	opts    TxOptions
}

// NewDynamoStore creates a DynamoDB-backed document store.
func NewDynamoStore(client aws.DynamoDBAPI, cfg DynamoConfig) *DynamoStore {
	return &DynamoStore{
		client:  client,
		tables:  cfg.Tables,
		indexes: cfg.Indexes,
		opts:    cfg.TxOptions,
	}
}

func (s *DynamoStore) table(collection string) (string, error) {
	name, ok := s.tables[collection]
	if !ok || name == "" {
		return "", fmt.Errorf("store: no table configured for collection %q", collection)
	}
	return name, nil
}

func (s *DynamoStore) Get(ctx context.Context, key Key, out any) (bool, error) {
	item, err := s.getItem(ctx, key)
	if err != nil {
		return false, err
	}
	if len(item) == 0 {
		return false, nil
	}
	return true, decode(key, item, out)
}

func (s *DynamoStore) getItem(ctx context.Context, key Key) (map[string]types.AttributeValue, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	table, err := s.table(key.Collection)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &table,
		Key:            keyAttr(key),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	return out.Item, nil
}

func (s *DynamoStore) FindOne(ctx context.Context, collection, field, value string, out any) (bool, error) {
	table, err := s.table(collection)
	if err != nil {
		return false, err
	}
	index, ok := s.indexes[collection+"."+field]
	if !ok {
		return false, fmt.Errorf("store: no index configured for %s.%s", collection, field)
	}
	res, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &table,
		IndexName:                &index,
		KeyConditionExpression:   awsString("#f = :v"),
		ExpressionAttributeNames: map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: sdkaws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("query %s by %s: %w", collection, field, err)
	}
	if len(res.Items) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := attributevalue.UnmarshalMap(res.Items[0], out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", collection, err)
	}
	return true, nil
}

func (s *DynamoStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return withRetry(ctx, s.opts, func(ctx context.Context) error {
		tx := &dynamoTx{txState: newTxState(), store: s}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(ctx, tx.txState)
	})
}

// commitOp remembers why each transact item was added so cancellation
// reasons can be mapped back to store errors.
type commitOp struct {
	kind    opKind
	key     Key
	wasRead bool
	check   bool
}

func (s *DynamoStore) commit(ctx context.Context, t *txState) error {
	if len(t.writes) == 0 {
		return nil
	}

	var (
		items []types.TransactWriteItem
		ops   []commitOp
	)
	for _, w := range t.writes {
		table, err := s.table(w.key.Collection)
		if err != nil {
			return err
		}
		r, wasRead := t.reads[w.key]
		switch w.kind {
		case opCreate:
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                &table,
				Item:                     w.item,
				ConditionExpression:      awsString("attribute_not_exists(#id)"),
				ExpressionAttributeNames: map[string]string{"#id": AttrID},
			}})
		case opPut:
			cond, names, values := versionCondition(r)
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                 &table,
				Item:                      w.item,
				ConditionExpression:       &cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}})
		case opUpdate:
			update, err := buildUpdate(table, w.key, w.mutation, r, wasRead)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{Update: update})
		}
		ops = append(ops, commitOp{kind: w.kind, key: w.key, wasRead: wasRead})
	}

	keys := t.readOnly()
	slices.SortFunc(keys, func(a, b Key) int { return strings.Compare(a.String(), b.String()) })
	for _, key := range keys {
		table, err := s.table(key.Collection)
		if err != nil {
			return err
		}
		cond, names, values := versionCondition(t.reads[key])
		items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 &table,
			Key:                       keyAttr(key),
			ConditionExpression:       &cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}})
		ops = append(ops, commitOp{key: key, wasRead: true, check: true})
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return mapCommitError(err, ops)
	}
	return nil
}

func mapCommitError(err error, ops []commitOp) error {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			code := sdkaws.ToString(reason.Code)
			switch code {
			case "", "None":
				continue
			case "ConditionalCheckFailed":
				if i < len(ops) && !ops[i].wasRead && !ops[i].check {
					switch ops[i].kind {
					case opCreate:
						return fmt.Errorf("%w: %s", ErrAlreadyExists, ops[i].key)
					case opUpdate:
						return fmt.Errorf("%w: %s", ErrNotFound, ops[i].key)
					}
				}
				return fmt.Errorf("%w: condition failed", ErrConflict)
			case "TransactionConflict":
				return fmt.Errorf("%w: %s", ErrConflict, code)
			default:
				return fmt.Errorf("transaction canceled (%s): %w", code, err)
			}
		}
		return fmt.Errorf("%w: transaction canceled", ErrConflict)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TransactionConflictException", "TransactionInProgressException":
			return fmt.Errorf("%w: %s", ErrConflict, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("transact write: %w", err)
}

// versionCondition asserts a document is still in the state a read observed.
func versionCondition(r readState) (string, map[string]string, map[string]types.AttributeValue) {
	switch {
	case !r.exists:
		return "attribute_not_exists(#id)", map[string]string{"#id": AttrID}, nil
	case r.version == 0:
		return "attribute_exists(#id) AND attribute_not_exists(#ver)",
			map[string]string{"#id": AttrID, "#ver": AttrVersion}, nil
	default:
		return "#ver = :expected",
			map[string]string{"#ver": AttrVersion},
			map[string]types.AttributeValue{":expected": numberAttr(r.version)}
	}
}

func buildUpdate(table string, key Key, m Mutation, r readState, wasRead bool) (*types.Update, error) {
	names := map[string]string{"#ver": AttrVersion}
	values := map[string]types.AttributeValue{
		":zero": numberAttr(0),
		":one":  numberAttr(1),
	}
	var sets []string

	incFields := slices.Sorted(maps.Keys(m.Increment))
	for i, field := range incFields {
		n, v := "#i"+strconv.Itoa(i), ":i"+strconv.Itoa(i)
		names[n] = field
		values[v] = numberAttr(m.Increment[field])
		sets = append(sets, fmt.Sprintf("%s = if_not_exists(%s, :zero) + %s", n, n, v))
	}

	setFields := slices.Sorted(maps.Keys(m.Set))
	for i, field := range setFields {
		n, v := "#s"+strconv.Itoa(i), ":s"+strconv.Itoa(i)
		av, err := attributevalue.Marshal(m.Set[field])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", field, err)
		}
		names[n] = field
		values[v] = av
		sets = append(sets, fmt.Sprintf("%s = %s", n, v))
	}
	sets = append(sets, "#ver = if_not_exists(#ver, :zero) + :one")

	var cond string
	if wasRead {
		c, cn, cv := versionCondition(r)
		cond = c
		for k, v := range cn {
			names[k] = v
		}
		for k, v := range cv {
			values[k] = v
		}
	} else {
		cond = "attribute_exists(#id)"
		names["#id"] = AttrID
	}

	return &types.Update{
		TableName:                 &table,
		Key:                       keyAttr(key),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

type dynamoTx struct {
	*txState
	store *DynamoStore
}

func (tx *dynamoTx) Get(ctx context.Context, key Key, out any) (bool, error) {
	if err := tx.beforeRead(key); err != nil {
		return false, err
	}
	item, err := tx.store.getItem(ctx, key)
	if err != nil {
		return false, err
	}
	tx.observe(key, item)
	if len(item) == 0 {
		return false, nil
	}
	return true, decode(key, item, out)
}

func keyAttr(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrID: &types.AttributeValueMemberS{Value: key.ID},
	}
}

func awsString(s string) *string { return &s }

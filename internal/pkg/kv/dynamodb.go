package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore is the production Store. The table is keyed by partitionKey
// (hash) and sortKey (range); GlobalIndex is a GSI hashed on globalId.
type DynamoStore struct {
	client      DynamoAPI
	table       string
	globalIndex string
}

func NewDynamoStore(client DynamoAPI, table, globalIndex string) *DynamoStore {
	return &DynamoStore{client: client, table: table, globalIndex: globalIndex}
}

func dynamoKey(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPartitionKey: &types.AttributeValueMemberS{Value: k.PartitionKey},
		AttrSortKey:      &types.AttributeValueMemberS{Value: k.SortKey},
	}
}

// buildUpdate renders an UpdateStatement with the expression builder.
func buildUpdate(stmt UpdateStatement) (expression.UpdateBuilder, error) {
	var upd expression.UpdateBuilder
	if stmt.IsEmpty() {
		return upd, errors.New("empty update statement")
	}
	for _, a := range stmt.Set {
		name := expression.Name(a.Field)
		switch a.Op {
		case SetValue:
			upd = upd.Set(name, expression.Value(Normalize(a.Value)))
		case SetAdd:
			upd = upd.Set(name, expression.Plus(
				expression.IfNotExists(name, expression.Value(0)),
				expression.Value(Normalize(a.Value)),
			))
		case SetAppend:
			upd = upd.Set(name, expression.ListAppend(
				expression.IfNotExists(name, expression.Value([]any{})),
				expression.Value(Normalize(a.Value)),
			))
		default:
			return upd, fmt.Errorf("unknown set op %d on %s", a.Op, a.Field)
		}
	}
	for _, f := range stmt.Remove {
		upd = upd.Remove(expression.Name(f))
	}
	return upd, nil
}

// buildCondition renders a Condition; ok is false when cond is unconditional.
func buildCondition(cond Condition) (expression.ConditionBuilder, bool) {
	var parts []expression.ConditionBuilder
	switch cond.Require {
	case MustExist:
		parts = append(parts, expression.AttributeExists(expression.Name(AttrPartitionKey)))
	case MustNotExist:
		parts = append(parts, expression.AttributeNotExists(expression.Name(AttrPartitionKey)))
	}
	for name, v := range cond.Equals {
		parts = append(parts, expression.Name(name).Equal(expression.Value(Normalize(v))))
	}
	switch len(parts) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return parts[0], true
	default:
		return expression.And(parts[0], parts[1], parts[2:]...), true
	}
}

func buildExpression(stmt *UpdateStatement, cond Condition) (*expression.Expression, error) {
	b := expression.NewBuilder()
	used := false
	if stmt != nil {
		upd, err := buildUpdate(*stmt)
		if err != nil {
			return nil, err
		}
		b = b.WithUpdate(upd)
		used = true
	}
	if c, ok := buildCondition(cond); ok {
		b = b.WithCondition(c)
		used = true
	}
	if !used {
		return nil, nil
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}
	return &expr, nil
}

func marshalItem(k Key, it Item) (map[string]types.AttributeValue, error) {
	it = it.Clone()
	if it == nil {
		it = Item{}
	}
	it[AttrPartitionKey] = k.PartitionKey
	it[AttrSortKey] = k.SortKey
	return attributevalue.MarshalMap(Normalize(map[string]any(it)))
}

func unmarshalItem(av map[string]types.AttributeValue) (Item, error) {
	var it Item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, err
	}
	return it, nil
}

// mapDynamoError turns conditional failures into ErrConditionalCheck.
func mapDynamoError(err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", ccf.ErrorMessage(), ErrConditionalCheck)
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("transaction canceled: %w", ErrConditionalCheck)
			}
		}
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
		return fmt.Errorf("%s: %w", apiErr.ErrorMessage(), ErrConditionalCheck)
	}
	return err
}

func (s *DynamoStore) Get(ctx context.Context, key Key) (Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            dynamoKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	it, err := unmarshalItem(out.Item)
	return it, storageErr("get", err)
}

func (s *DynamoStore) Put(ctx context.Context, key Key, item Item, cond Condition) error {
	av, err := marshalItem(key, item)
	if err != nil {
		return storageErr("put", err)
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}
	expr, err := buildExpression(nil, cond)
	if err != nil {
		return storageErr("put", err)
	}
	if expr != nil {
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	_, err = s.client.PutItem(ctx, in)
	return storageErr("put", mapDynamoError(err))
}

func (s *DynamoStore) Update(ctx context.Context, key Key, stmt UpdateStatement, cond Condition) (Item, error) {
	expr, err := buildExpression(&stmt, cond)
	if err != nil {
		return nil, storageErr("update", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       dynamoKey(key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, storageErr("update", mapDynamoError(err))
	}
	it, err := unmarshalItem(out.Attributes)
	return it, storageErr("update", err)
}

func (s *DynamoStore) Delete(ctx context.Context, key Key, cond Condition) error {
	in := &dynamodb.DeleteItemInput{TableName: aws.String(s.table), Key: dynamoKey(key)}
	expr, err := buildExpression(nil, cond)
	if err != nil {
		return storageErr("delete", err)
	}
	if expr != nil {
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	_, err = s.client.DeleteItem(ctx, in)
	return storageErr("delete", mapDynamoError(err))
}

func (s *DynamoStore) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxTransactItems {
		return ErrTooManyItems
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		twi, err := s.transactItem(op)
		if err != nil {
			return storageErr("transact", fmt.Errorf("op %d (%s): %w", i, op.Key, err))
		}
		items = append(items, twi)
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return storageErr("transact", mapDynamoError(err))
}

func (s *DynamoStore) transactItem(op WriteOp) (types.TransactWriteItem, error) {
	switch op.Kind {
	case OpPut:
		av, err := marshalItem(op.Key, op.Item)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{TableName: aws.String(s.table), Item: av}
		expr, err := buildExpression(nil, op.Condition)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		if expr != nil {
			put.ConditionExpression = expr.Condition()
			put.ExpressionAttributeNames = expr.Names()
			put.ExpressionAttributeValues = expr.Values()
		}
		return types.TransactWriteItem{Put: put}, nil
	case OpUpdate:
		expr, err := buildExpression(&op.Update, op.Condition)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(s.table),
			Key:                       dynamoKey(op.Key),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}}, nil
	case OpDelete:
		del := &types.Delete{TableName: aws.String(s.table), Key: dynamoKey(op.Key)}
		expr, err := buildExpression(nil, op.Condition)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		if expr != nil {
			del.ConditionExpression = expr.Condition()
			del.ExpressionAttributeNames = expr.Names()
			del.ExpressionAttributeValues = expr.Values()
		}
		return types.TransactWriteItem{Delete: del}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unknown write op kind %d", op.Kind)
}

func (s *DynamoStore) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	kc := expression.Key(AttrPartitionKey).Equal(expression.Value(in.PartitionKey))
	if in.SortPrefix != "" {
		kc = kc.And(expression.Key(AttrSortKey).BeginsWith(in.SortPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, storageErr("query", err)
	}
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	}, in.Limit)
}

func (s *DynamoStore) QueryIndex(ctx context.Context, globalID string) ([]Item, error) {
	kc := expression.Key(AttrGlobalID).Equal(expression.Value(globalID))
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, storageErr("query index", err)
	}
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(s.globalIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, 0)
}

func (s *DynamoStore) query(ctx context.Context, in *dynamodb.QueryInput, limit int) ([]Item, error) {
	items := []Item{}
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, storageErr("query", err)
		}
		for _, av := range page.Items {
			it, err := unmarshalItem(av)
			if err != nil {
				return nil, storageErr("query", err)
			}
			items = append(items, it)
			if limit > 0 && len(items) >= limit {
				return items, nil
			}
		}
	}
	return items, nil
}

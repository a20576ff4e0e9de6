// Package dynamo is the production kvstore.Store, backed by Amazon
// DynamoDB. It also implements kvstore.ChangeFeed over DynamoDB Streams.
// Item marshaling follows the attribute-value conversion idiom used
// throughout aws-sdk-go-v2 consumers: build a map[string]types.AttributeValue
// by hand rather than reaching for the higher-level attributevalue
// marshaler, since Attributes already carries loosely-typed Go values
// that need explicit per-kind conversion.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ndlib/rstore/kvstore"
)

// Store talks to one DynamoDB table. HashKeyName and RangeKeyName name
// the table's primary key attributes; they default to "id" and "vid" to
// match paramz's field tokens.
type Store struct {
	Client       *dynamodb.Client
	TableName    string
	HashKeyName  string
	RangeKeyName string
}

// New returns a Store bound to table, using DynamoDB's default "id"/"vid"
// key schema.
func New(client *dynamodb.Client, table string) *Store {
	return &Store{Client: client, TableName: table, HashKeyName: "id", RangeKeyName: "vid"}
}

func (s *Store) keyAV(key kvstore.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.HashKeyName:  &types.AttributeValueMemberS{Value: key.StorageID},
		s.RangeKeyName: &types.AttributeValueMemberN{Value: strconv.FormatInt(key.Vid, 10)},
	}
}

// PutItem implements kvstore.Store.
func (s *Store) PutItem(ctx context.Context, w kvstore.WriteRequest) error {
	switch w.Op {
	case kvstore.OpPut:
		item, err := attributesToAV(w.Item)
		if err != nil {
			return err
		}
		item[s.HashKeyName] = &types.AttributeValueMemberS{Value: w.Key.StorageID}
		item[s.RangeKeyName] = &types.AttributeValueMemberN{Value: strconv.FormatInt(w.Key.Vid, 10)}

		in := &dynamodb.PutItemInput{
			TableName: aws.String(s.TableName),
			Item:      item,
		}
		if w.ConditionExpression != "" {
			in.ConditionExpression = aws.String(w.ConditionExpression)
			in.ExpressionAttributeNames = w.ExpressionAttributeNames
			values, err := valuesToAV(w.ExpressionAttributeValues)
			if err != nil {
				return err
			}
			in.ExpressionAttributeValues = values
		}
		_, err = s.Client.PutItem(ctx, in)
		return translateConditionalError(err)

	case kvstore.OpUpdate:
		return s.update(ctx, w)

	case kvstore.OpDelete:
		return s.DeleteItem(ctx, w.Key)

	case kvstore.OpConditionCheck:
		_, err := s.GetItem(ctx, w.Key, nil)
		return err
	}
	return fmt.Errorf("dynamo: unsupported op %v", w.Op)
}

func (s *Store) update(ctx context.Context, w kvstore.WriteRequest) error {
	names := map[string]string{}
	for k, v := range w.ExpressionAttributeNames {
		names[k] = v
	}
	values := map[string]interface{}{}
	for k, v := range w.ExpressionAttributeValues {
		values[k] = v
	}

	setClauses := ""
	i := 0
	for field, val := range w.Updates {
		alias := fmt.Sprintf("#u%d", i)
		ph := fmt.Sprintf(":u%d", i)
		names[alias] = field
		values[ph] = val
		if i > 0 {
			setClauses += ", "
		}
		setClauses += alias + " = " + ph
		i++
	}

	valuesAV, err := valuesToAV(values)
	if err != nil {
		return err
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.TableName),
		Key:                       s.keyAV(w.Key),
		UpdateExpression:          aws.String("SET " + setClauses),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: valuesAV,
	}
	if w.ConditionExpression != "" {
		in.ConditionExpression = aws.String(w.ConditionExpression)
	}
	_, err = s.Client.UpdateItem(ctx, in)
	return translateConditionalError(err)
}

// GetItem implements kvstore.Store.
func (s *Store) GetItem(ctx context.Context, key kvstore.Key, projection []string) (kvstore.Attributes, error) {
	in := &dynamodb.GetItemInput{
		TableName: aws.String(s.TableName),
		Key:       s.keyAV(key),
	}
	if len(projection) > 0 {
		names := map[string]string{}
		expr := ""
		for i, f := range projection {
			alias := fmt.Sprintf("#p%d", i)
			names[alias] = f
			if i > 0 {
				expr += ", "
			}
			expr += alias
		}
		in.ProjectionExpression = aws.String(expr)
		in.ExpressionAttributeNames = names
	}
	out, err := s.Client.GetItem(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return avToAttributes(out.Item)
}

// Query implements kvstore.Store.
func (s *Store) Query(ctx context.Context, q kvstore.QueryInput) ([]kvstore.Attributes, error) {
	values, err := valuesToAV(q.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.TableName),
		KeyConditionExpression:    aws.String(q.KeyConditionExpression),
		ExpressionAttributeNames:  q.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(q.ScanIndexForward),
	}
	if q.IndexName != "" {
		in.IndexName = aws.String(q.IndexName)
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(q.Limit)
	}
	out, err := s.Client.Query(ctx, in)
	if err != nil {
		return nil, err
	}
	items := make([]kvstore.Attributes, len(out.Items))
	for i, av := range out.Items {
		attrs, err := avToAttributes(av)
		if err != nil {
			return nil, err
		}
		items[i] = attrs
	}
	return items, nil
}

// TransactWrite implements kvstore.Store.
func (s *Store) TransactWrite(ctx context.Context, writes []kvstore.WriteRequest) error {
	if len(writes) > kvstore.MaxTransactItems {
		return kvstore.ErrTransactionTooLarge
	}
	items := make([]types.TransactWriteItem, len(writes))
	for i, w := range writes {
		item, err := s.transactItem(w)
		if err != nil {
			return err
		}
		items[i] = item
	}
	_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return translateConditionalError(err)
}

func (s *Store) transactItem(w kvstore.WriteRequest) (types.TransactWriteItem, error) {
	switch w.Op {
	case kvstore.OpPut:
		item, err := attributesToAV(w.Item)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		item[s.HashKeyName] = &types.AttributeValueMemberS{Value: w.Key.StorageID}
		item[s.RangeKeyName] = &types.AttributeValueMemberN{Value: strconv.FormatInt(w.Key.Vid, 10)}
		values, err := valuesToAV(w.ExpressionAttributeValues)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		put := &types.Put{TableName: aws.String(s.TableName), Item: item}
		if w.ConditionExpression != "" {
			put.ConditionExpression = aws.String(w.ConditionExpression)
			put.ExpressionAttributeNames = w.ExpressionAttributeNames
			put.ExpressionAttributeValues = values
		}
		return types.TransactWriteItem{Put: put}, nil

	case kvstore.OpDelete:
		del := &types.Delete{TableName: aws.String(s.TableName), Key: s.keyAV(w.Key)}
		return types.TransactWriteItem{Delete: del}, nil

	case kvstore.OpConditionCheck:
		values, err := valuesToAV(w.ExpressionAttributeValues)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		cc := &types.ConditionCheck{
			TableName:                 aws.String(s.TableName),
			Key:                       s.keyAV(w.Key),
			ConditionExpression:       aws.String(w.ConditionExpression),
			ExpressionAttributeNames:  w.ExpressionAttributeNames,
			ExpressionAttributeValues: values,
		}
		return types.TransactWriteItem{ConditionCheck: cc}, nil

	default:
		return types.TransactWriteItem{}, fmt.Errorf("dynamo: op %v unsupported in a transaction", w.Op)
	}
}

// DeleteItem implements kvstore.Store.
func (s *Store) DeleteItem(ctx context.Context, key kvstore.Key) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.TableName),
		Key:       s.keyAV(key),
	})
	return err
}

func translateConditionalError(err error) error {
	if err == nil {
		return nil
	}
	var condFailed *types.ConditionalCheckFailedException
	var txCanceled *types.TransactionCanceledException
	switch {
	case errors.As(err, &condFailed):
		return kvstore.ErrConditionFailed
	case errors.As(err, &txCanceled):
		return kvstore.ErrConditionFailed
	}
	return err
}

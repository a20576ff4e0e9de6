package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"github.com/ndlib/rstore/kvstore"
)

// StreamFeed implements kvstore.ChangeFeed over a DynamoDB Streams
// stream ARN, giving an ordered, per-shard change feed.
type StreamFeed struct {
	Client   *dynamodbstreams.Client
	StreamARN string
}

// Shards implements kvstore.ChangeFeed.
func (f *StreamFeed) Shards(ctx context.Context) ([]string, error) {
	out, err := f.Client.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
		StreamArn: aws.String(f.StreamARN),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(out.StreamDescription.Shards))
	for i, sh := range out.StreamDescription.Shards {
		ids[i] = aws.ToString(sh.ShardId)
	}
	return ids, nil
}

// Records implements kvstore.ChangeFeed. after is the last sequence
// number consumed on shardID (empty means start from TRIM_HORIZON).
func (f *StreamFeed) Records(ctx context.Context, shardID, after string) ([]kvstore.ChangeRecord, string, error) {
	iterType := types.ShardIteratorTypeTrimHorizon
	var seqNum *string
	if after != "" {
		iterType = types.ShardIteratorTypeAfterSequenceNumber
		seqNum = aws.String(after)
	}

	iterOut, err := f.Client.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(f.StreamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: iterType,
		SequenceNumber:    seqNum,
	})
	if err != nil {
		return nil, after, err
	}

	out, err := f.Client.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
		ShardIterator: iterOut.ShardIterator,
	})
	if err != nil {
		return nil, after, err
	}

	records := make([]kvstore.ChangeRecord, 0, len(out.Records))
	resume := after
	for _, r := range out.Records {
		rec, err := toChangeRecord(shardID, r)
		if err != nil {
			return nil, resume, err
		}
		records = append(records, rec)
		resume = rec.SequenceNum
	}
	return records, resume, nil
}

func toChangeRecord(shardID string, r types.Record) (kvstore.ChangeRecord, error) {
	var eventType kvstore.ChangeEventType
	switch r.EventName {
	case types.OperationTypeInsert:
		eventType = kvstore.ChangeInsert
	case types.OperationTypeModify:
		eventType = kvstore.ChangeModify
	case types.OperationTypeRemove:
		eventType = kvstore.ChangeRemove
	}

	rec := kvstore.ChangeRecord{
		EventType:   eventType,
		ShardID:     shardID,
		SequenceNum: aws.ToString(r.Dynamodb.SequenceNumber),
	}
	if r.Dynamodb.OldImage != nil {
		old, err := avStreamToAttributes(r.Dynamodb.OldImage)
		if err != nil {
			return kvstore.ChangeRecord{}, err
		}
		rec.OldImage = old
	}
	if r.Dynamodb.NewImage != nil {
		nu, err := avStreamToAttributes(r.Dynamodb.NewImage)
		if err != nil {
			return kvstore.ChangeRecord{}, err
		}
		rec.NewImage = nu
	}
	return rec, nil
}

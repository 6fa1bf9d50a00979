package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/push-dispatcher/internal/domain"
)

// notificationItem is the stored shape of a scheduled notification: the domain
// fields plus the sparse index attributes the fetcher and the retention cleaner query.
type notificationItem struct {
	domain.ScheduledNotification
	DueBucket  string `dynamodbav:"due_bucket,omitempty"`
	SentBucket string `dynamodbav:"sent_bucket,omitempty"`
}

// NotificationRepo provides typed DynamoDB operations for the scheduled notifications table.
type NotificationRepo struct {
	client    API
	tableName string
}

func NewNotificationRepo(client API, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName}
}

// Put stores a notification with the index attributes producers are expected to write.
// The engine itself never calls it; it exists for seeding and tests.
func (r *NotificationRepo) Put(ctx context.Context, n *domain.ScheduledNotification) error {
	it := notificationItem{ScheduledNotification: *n}
	if n.IsSent {
		it.SentBucket = bucketSent
	} else {
		it.DueBucket = bucketDue
	}
	item, err := marshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// FetchDue queries the sparse due index for unsent notifications scheduled at or
// before now, oldest first, and pages until limit rows are collected.
func (r *NotificationRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	var (
		due      []domain.ScheduledNotification
		startKey map[string]types.AttributeValue
	)
	for len(due) < limit {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(indexDue),
			KeyConditionExpression: aws.String("#b = :due AND #s <= :now"),
			FilterExpression:       aws.String("attribute_not_exists(#n) OR #n <= :now"),
			ExpressionAttributeNames: map[string]string{
				"#b": fieldDueBucket,
				"#s": fieldScheduledFor,
				"#n": fieldNextAttemptAt,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":due": &types.AttributeValueMemberS{Value: bucketDue},
				":now": timeValue(now),
			},
			Limit:             aws.Int32(int32(limit - len(due))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query due notifications: %w: %w", domain.ErrStoreUnavailable, err)
		}
		var page []domain.ScheduledNotification
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal due notifications: %w", err)
		}
		due = append(due, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return due, nil
}

// BatchMarkSent flags the given notifications as sent. The first sent_at wins, so
// marking an id twice leaves it unchanged.
func (r *NotificationRepo) BatchMarkSent(ctx context.Context, ids []string, sentAt time.Time) error {
	ids = dedupe(ids)
	updates := make([]types.Update, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 strKey(fieldNotificationID, id),
			UpdateExpression:    aws.String("SET #sent = :t, #at = if_not_exists(#at, :now), #sb = :sb REMOVE #db"),
			ConditionExpression: aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{
				"#pk":   fieldNotificationID,
				"#sent": fieldIsSent,
				"#at":   fieldSentAt,
				"#sb":   fieldSentBucket,
				"#db":   fieldDueBucket,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t":   &types.AttributeValueMemberBOOL{Value: true},
				":now": timeValue(sentAt),
				":sb":  &types.AttributeValueMemberS{Value: bucketSent},
			},
		})
	}
	if _, err := transactUpdates(ctx, r.client, updates); err != nil {
		return fmt.Errorf("mark notifications sent: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// BatchRecordFailures writes attempt bookkeeping for notifications that stayed due.
func (r *NotificationRepo) BatchRecordFailures(ctx context.Context, failures []domain.DeliveryFailure) error {
	updates := make([]types.Update, 0, len(failures))
	for _, f := range failures {
		fields := map[string]interface{}{
			fieldAttempts:  f.Attempts,
			fieldLastError: f.LastError,
		}
		if f.NextAttemptAt != nil {
			fields[fieldNextAttemptAt] = f.NextAttemptAt.UTC()
		}
		ue, err := buildUpdateExpr(fields)
		if err != nil {
			return err
		}
		ue.Names["#pk"] = fieldNotificationID
		updates = append(updates, types.Update{
			TableName:                 aws.String(r.tableName),
			Key:                       strKey(fieldNotificationID, f.NotificationID),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		})
	}
	if _, err := transactUpdates(ctx, r.client, updates); err != nil {
		return fmt.Errorf("record delivery failures: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// BatchDeleteSentBefore permanently removes sent notifications whose sent_at is older
// than cutoff and returns how many were deleted.
func (r *NotificationRepo) BatchDeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		keys     []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(indexSent),
			KeyConditionExpression: aws.String("#b = :sent AND #a < :cutoff"),
			ProjectionExpression:   aws.String("#pk"),
			ExpressionAttributeNames: map[string]string{
				"#b":  fieldSentBucket,
				"#a":  fieldSentAt,
				"#pk": fieldNotificationID,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sent":   &types.AttributeValueMemberS{Value: bucketSent},
				":cutoff": timeValue(cutoff),
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("query expired notifications: %w: %w", domain.ErrStoreUnavailable, err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{fieldNotificationID: item[fieldNotificationID]})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	deleted := 0
	for _, batch := range chunk(keys, maxBatchWrite) {
		reqs := make([]types.WriteRequest, len(batch))
		for i, k := range batch {
			reqs[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}}
		}
		n, err := r.batchWrite(ctx, reqs)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("delete expired notifications: %w: %w", domain.ErrStoreUnavailable, err)
		}
	}
	return deleted, nil
}

const maxUnprocessedRetries = 5

// batchWrite sends one BatchWriteItem and resubmits UnprocessedItems with a short,
// growing pause. It returns how many requests were applied.
func (r *NotificationRepo) batchWrite(ctx context.Context, reqs []types.WriteRequest) (int, error) {
	applied := 0
	pending := reqs
	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt > 0 {
			if attempt > maxUnprocessedRetries {
				return applied, fmt.Errorf("%d writes still unprocessed", len(pending))
			}
			select {
			case <-ctx.Done():
				return applied, ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{r.tableName: pending},
		})
		if err != nil {
			return applied, err
		}
		unprocessed := out.UnprocessedItems[r.tableName]
		applied += len(pending) - len(unprocessed)
		pending = unprocessed
	}
	return applied, nil
}

package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// transactUpdates applies updates in TransactWriteItems chunks and returns how many
// items were changed. Every update carries a condition; when a chunk is cancelled
// because some condition failed (row gone, already in the target state) the chunk
// is replayed item by item and the failing items are skipped.
func transactUpdates(ctx context.Context, api API, updates []types.Update) (int, error) {
	applied := 0
	for _, batch := range chunk(updates, maxTransactItems) {
		items := make([]types.TransactWriteItem, len(batch))
		for i := range batch {
			items[i] = types.TransactWriteItem{Update: &batch[i]}
		}
		_, err := api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			applied += len(batch)
			continue
		}
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return applied, err
		}
		for _, u := range batch {
			ok, err := updateOne(ctx, api, u)
			if err != nil {
				return applied, err
			}
			if ok {
				applied++
			}
		}
	}
	return applied, nil
}

// updateOne runs a single conditional update. A failed condition is not an error.
func updateOne(ctx context.Context, api API, u types.Update) (bool, error) {
	_, err := api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

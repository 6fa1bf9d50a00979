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

// EndpointRepo provides typed DynamoDB operations for the delivery endpoints table.
type EndpointRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewEndpointRepo(client API, tableName string) *EndpointRepo {
	return &EndpointRepo{client: client, tableName: tableName, now: time.Now}
}

// Put stores an endpoint. Registration happens elsewhere; this is for seeding and tests.
func (r *EndpointRepo) Put(ctx context.Context, e *domain.DeliveryEndpoint) error {
	item, err := marshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal endpoint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// FetchActive queries the recipient_id GSI and filters for active endpoints.
// No endpoints is a valid answer, not an error.
func (r *EndpointRepo) FetchActive(ctx context.Context, recipientID string) ([]domain.DeliveryEndpoint, error) {
	var (
		endpoints []domain.DeliveryEndpoint
		startKey  map[string]types.AttributeValue
	)
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(indexRecipient),
			KeyConditionExpression: aws.String("#r = :rid"),
			FilterExpression:       aws.String("#a = :t"),
			ExpressionAttributeNames: map[string]string{
				"#r": fieldRecipientID,
				"#a": fieldIsActive,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":rid": &types.AttributeValueMemberS{Value: recipientID},
				":t":   &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query active endpoints: %w: %w", domain.ErrStoreUnavailable, err)
		}
		var page []domain.DeliveryEndpoint
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal endpoints: %w", err)
		}
		endpoints = append(endpoints, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return endpoints, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// BatchDeactivate switches every active endpoint holding one of tokens to inactive and
// returns how many endpoints changed. Already inactive endpoints are skipped.
func (r *EndpointRepo) BatchDeactivate(ctx context.Context, tokens []string) (int, error) {
	var ids []string
	for _, token := range dedupe(tokens) {
		found, err := r.idsByToken(ctx, token)
		if err != nil {
			return 0, err
		}
		ids = append(ids, found...)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	updatedAt := timeValue(r.now())
	updates := make([]types.Update, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 strKey(fieldEndpointID, id),
			UpdateExpression:    aws.String("SET #a = :f, #u = :now"),
			ConditionExpression: aws.String("#a = :t"),
			ExpressionAttributeNames: map[string]string{
				"#a": fieldIsActive,
				"#u": fieldUpdatedAt,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f":   &types.AttributeValueMemberBOOL{Value: false},
				":t":   &types.AttributeValueMemberBOOL{Value: true},
				":now": updatedAt,
			},
		})
	}
	n, err := transactUpdates(ctx, r.client, updates)
	if err != nil {
		return n, fmt.Errorf("deactivate endpoints: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (r *EndpointRepo) idsByToken(ctx context.Context, token string) ([]string, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexToken),
		KeyConditionExpression: aws.String("#t = :token"),
		FilterExpression:       aws.String("#a = :t"),
		ExpressionAttributeNames: map[string]string{
			"#t": fieldToken,
			"#a": fieldIsActive,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
			":t":     &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query endpoints by token: %w: %w", domain.ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if v, ok := item[fieldEndpointID].(*types.AttributeValueMemberS); ok {
			ids = append(ids, v.Value)
		}
	}
	return ids, nil
}

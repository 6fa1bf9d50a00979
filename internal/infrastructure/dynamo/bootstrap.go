package dynamo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/push-dispatcher/internal/config"
)

const tableReadyTimeout = 2 * time.Minute

type index struct {
	name, hash, sort string
	// include lists non-key attributes to project; nil projects ALL, empty KEYS_ONLY.
	include []string
}

// Bootstrap creates the notification and endpoint tables with their GSIs when missing
// and waits for new tables to become ACTIVE. Existing tables are left alone.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) {
	ensureTable(ctx, client, tables.Notifications, fieldNotificationID,
		[]string{fieldNotificationID, fieldDueBucket, fieldScheduledFor, fieldSentBucket, fieldSentAt},
		// FetchDue reads whole rows; retention only needs the key.
		index{name: indexDue, hash: fieldDueBucket, sort: fieldScheduledFor},
		index{name: indexSent, hash: fieldSentBucket, sort: fieldSentAt, include: []string{}},
	)
	ensureTable(ctx, client, tables.Endpoints, fieldEndpointID,
		[]string{fieldEndpointID, fieldRecipientID, fieldToken},
		index{name: indexRecipient, hash: fieldRecipientID},
		index{name: indexToken, hash: fieldToken, include: []string{fieldIsActive}},
	)
}

func ensureTable(ctx context.Context, client *dynamodb.Client, name, pk string, stringAttrs []string, indexes ...index) {
	defs := make([]types.AttributeDefinition, 0, len(stringAttrs))
	for _, a := range stringAttrs {
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(a), AttributeType: types.ScalarAttributeTypeS})
	}
	gsis := make([]types.GlobalSecondaryIndex, 0, len(indexes))
	for _, ix := range indexes {
		gsis = append(gsis, ix.descriptor())
	}

	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:              aws.String(name),
		BillingMode:            types.BillingModePayPerRequest,
		AttributeDefinitions:   defs,
		KeySchema:              []types.KeySchemaElement{{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash}},
		GlobalSecondaryIndexes: gsis,
	})
	if err != nil {
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			slog.Warn("could not create table", "table", name, "err", err)
		}
		return
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, tableReadyTimeout); err != nil {
		slog.Warn("table created but not active yet", "table", name, "err", err)
		return
	}
	slog.Info("created table", "table", name)
}

func (ix index) descriptor() types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{{AttributeName: aws.String(ix.hash), KeyType: types.KeyTypeHash}}
	if ix.sort != "" {
		ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(ix.sort), KeyType: types.KeyTypeRange})
	}
	proj := &types.Projection{ProjectionType: types.ProjectionTypeAll}
	switch {
	case ix.include == nil:
	case len(ix.include) == 0:
		proj = &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly}
	default:
		proj = &types.Projection{ProjectionType: types.ProjectionTypeInclude, NonKeyAttributes: ix.include}
	}
	return types.GlobalSecondaryIndex{IndexName: aws.String(ix.name), KeySchema: ks, Projection: proj}
}

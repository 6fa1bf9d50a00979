package dynamo

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// fakeAPI records every call and delegates to optional per-operation hooks.
type fakeAPI struct {
	mu          sync.Mutex
	puts        []*dynamodb.PutItemInput
	queries     []*dynamodb.QueryInput
	updates     []*dynamodb.UpdateItemInput
	transacts   []*dynamodb.TransactWriteItemsInput
	batchWrites []*dynamodb.BatchWriteItemInput

	queryFn    func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	updateFn   func(in *dynamodb.UpdateItemInput) error
	transactFn func(in *dynamodb.TransactWriteItemsInput) error
	batchFn    func(call int, in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.queries = append(f.queries, in)
	fn := f.queryFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return fn(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.updates = append(f.updates, in)
	fn := f.updateFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(in); err != nil {
			return nil, err
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.transacts = append(f.transacts, in)
	fn := f.transactFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(in); err != nil {
			return nil, err
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	f.batchWrites = append(f.batchWrites, in)
	call := len(f.batchWrites)
	fn := f.batchFn
	f.mu.Unlock()
	if fn == nil {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	return fn(call, in)
}

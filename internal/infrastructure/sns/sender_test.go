package sns

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/push-dispatcher/internal/domain"
	"github.com/push-dispatcher/internal/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu      sync.Mutex
	inputs  []*sns.PublishInput
	results map[string]error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if err := f.results[*in.TargetArn]; err != nil {
		return nil, err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-" + *in.TargetArn)}, nil
}

func (f *fakePublisher) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.inputs))
	for _, in := range f.inputs {
		out = append(out, *in.TargetArn)
	}
	sort.Strings(out)
	return out
}

var msg = payload.Message{NotificationID: "n1", Kind: domain.KindTaskReminder, Title: "T", Body: "B", TargetPath: "/tasks"}

func TestSendMulticast_AllSucceed(t *testing.T) {
	pub := &fakePublisher{}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:a", "arn:b"}, msg)

	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
	assert.Equal(t, []string{"arn:a", "arn:b"}, pub.targets())
	assert.Equal(t, "arn:a", res.Responses[0].Token)
	assert.Equal(t, "arn:b", res.Responses[1].Token)

	in := pub.inputs[0]
	assert.Equal(t, "json", *in.MessageStructure)
	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &doc))
	assert.Contains(t, doc, "GCM")
	assert.Contains(t, doc, "APNS")
}

func TestSendMulticast_PartialFailureMarksInvalidEndpoint(t *testing.T) {
	pub := &fakePublisher{results: map[string]error{
		"arn:dead": &types.EndpointDisabledException{Message: aws.String("Endpoint is disabled")},
	}}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:ok", "arn:dead"}, msg)

	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.True(t, res.Responses[0].Success)
	assert.False(t, res.Responses[1].Success)
	assert.True(t, errors.Is(res.Responses[1].Err, domain.ErrEndpointInvalid))
}

func TestSendMulticast_AllEndpointsInvalidIsNotTransportFailure(t *testing.T) {
	pub := &fakePublisher{results: map[string]error{
		"arn:gone":  &types.NotFoundException{Message: aws.String("no such endpoint")},
		"arn:bogus": &types.InvalidParameterException{Message: aws.String("Invalid parameter: TargetArn Reason: No endpoint found for the target arn specified")},
	}}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:gone", "arn:bogus"}, msg)

	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	for _, r := range res.Responses {
		assert.True(t, errors.Is(r.Err, domain.ErrEndpointInvalid))
	}
}

func TestSendMulticast_AllTransientIsTransportFailure(t *testing.T) {
	throttled := &smithy.GenericAPIError{Code: "Throttling", Message: "rate exceeded"}
	pub := &fakePublisher{results: map[string]error{"arn:a": throttled, "arn:b": throttled}}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:a", "arn:b"}, msg)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransportFailure))
	assert.False(t, errors.Is(err, domain.ErrEndpointInvalid))
}

func TestSendMulticast_TransientTokenAlongsideSuccessIsPerToken(t *testing.T) {
	pub := &fakePublisher{results: map[string]error{
		"arn:slow": &smithy.GenericAPIError{Code: "InternalError"},
	}}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:ok", "arn:slow"}, msg)

	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.False(t, errors.Is(res.Responses[1].Err, domain.ErrEndpointInvalid))
}

func TestSendMulticast_NoTokens(t *testing.T) {
	pub := &fakePublisher{}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), nil, msg)

	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.Empty(t, pub.inputs)
}

func TestSendMulticast_CancelledContextFailsWhenThrottled(t *testing.T) {
	pub := &fakePublisher{}
	s := newSender(pub, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SendMulticast(ctx, []string{"arn:a", "arn:b"}, msg)

	assert.True(t, errors.Is(err, domain.ErrTransportFailure))
	assert.Empty(t, pub.inputs)
}

func TestSendMulticast_MessageRejectedKeepsEndpoints(t *testing.T) {
	tooLong := &types.InvalidParameterException{Message: aws.String("Invalid parameter: Message too long")}
	pub := &fakePublisher{results: map[string]error{"arn:a": tooLong, "arn:b": tooLong}}
	s := newSender(pub, 0)

	res, err := s.SendMulticast(context.Background(), []string{"arn:a", "arn:b"}, msg)

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransportFailure))
	assert.False(t, errors.Is(err, domain.ErrEndpointInvalid))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		invalid bool
	}{
		{"endpoint disabled", &types.EndpointDisabledException{Message: aws.String("Endpoint is disabled")}, true},
		{"not found", &types.NotFoundException{Message: aws.String("Endpoint does not exist")}, true},
		{"bad target arn", &types.InvalidParameterException{Message: aws.String("Invalid parameter: TargetArn Reason: malformed")}, true},
		{"message too long", &types.InvalidParameterException{Message: aws.String("Invalid parameter: Message too long")}, false},
		{"bad message structure", &types.InvalidParameterException{Message: aws.String("Invalid parameter: Message Structure - No default entry in JSON message body")}, false},
		{"throttled", &smithy.GenericAPIError{Code: "Throttling", Message: "rate exceeded"}, false},
		{"network", errors.New("dial tcp: timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.invalid, errors.Is(classify(tt.err), domain.ErrEndpointInvalid))
		})
	}
}

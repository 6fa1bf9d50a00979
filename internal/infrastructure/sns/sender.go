package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/push-dispatcher/internal/config"
	"github.com/push-dispatcher/internal/domain"
	"github.com/push-dispatcher/internal/pkg/payload"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SNS error codes that mean the platform endpoint can never receive pushes again.
// InvalidParameter is not listed: it only counts when it names the target (see classify).
var endpointErrorCodes = map[string]struct{}{
	"EndpointDisabled": {},
	"NotFound":         {},
}

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender delivers push messages to SNS platform endpoints. Tokens are endpoint ARNs.
type Sender struct {
	client  publisher
	limiter *rate.Limiter
}

// NewSender builds an SNS client and verifies that credentials resolve.
// Missing credentials are reported as domain.ErrConfiguration.
func NewSender(ctx context.Context, cfg *config.Config) (*Sender, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SNSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w: %w", domain.ErrConfiguration, err)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("resolve SNS credentials: %w: %w", domain.ErrConfiguration, err)
	}

	var clientOpts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return newSender(sns.NewFromConfig(awsCfg, clientOpts...), cfg.SNSPublishRPS), nil
}

func newSender(client publisher, rps float64) *Sender {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Sender{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// SendMulticast publishes m to every token and reports a verdict per token, in token
// order. It only returns an error when no token could be reached for a reason other
// than the endpoint itself.
func (s *Sender) SendMulticast(ctx context.Context, tokens []string, m payload.Message) (*domain.MulticastResult, error) {
	doc, err := m.SNSJSON()
	if err != nil {
		return nil, fmt.Errorf("render payload: %w: %w", domain.ErrTransportFailure, err)
	}

	responses := make([]domain.TokenResponse, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	for i, token := range tokens {
		g.Go(func() error {
			resp := domain.TokenResponse{Token: token}
			if err := s.limiter.Wait(gctx); err != nil {
				resp.Err = err
			} else if _, err := s.client.Publish(gctx, &sns.PublishInput{
				TargetArn:        aws.String(token),
				Message:          aws.String(doc),
				MessageStructure: aws.String("json"),
			}); err != nil {
				resp.Err = classify(err)
			} else {
				resp.Success = true
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	if len(tokens) > 0 && allTransient(responses) {
		return nil, fmt.Errorf("publish to %d endpoints: %w: %w", len(tokens), domain.ErrTransportFailure, responses[0].Err)
	}
	res := &domain.MulticastResult{Responses: responses}
	for _, r := range responses {
		if r.Success {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	return res, nil
}

func allTransient(responses []domain.TokenResponse) bool {
	for _, r := range responses {
		if r.Success || errors.Is(r.Err, domain.ErrEndpointInvalid) {
			return false
		}
	}
	return true
}

// classify tags errors for dead endpoints with domain.ErrEndpointInvalid. An
// InvalidParameter about the message itself ("Message too long") stays a plain error
// so the notification is retried and no endpoint is pruned.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if _, ok := endpointErrorCodes[apiErr.ErrorCode()]; ok || invalidTarget(apiErr) {
		return fmt.Errorf("%w: %s", domain.ErrEndpointInvalid, apiErr.ErrorMessage())
	}
	return err
}

// invalidTarget reports an InvalidParameter that blames the TargetArn, e.g.
// "Invalid parameter: TargetArn Reason: No endpoint found for the target arn specified".
func invalidTarget(apiErr smithy.APIError) bool {
	if apiErr.ErrorCode() != "InvalidParameter" {
		return false
	}
	msg := strings.ToLower(apiErr.ErrorMessage())
	return strings.Contains(msg, "targetarn") || strings.Contains(msg, "endpoint")
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credit"
)

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes an AWS Lambda function synchronously.
type Lambda struct {
	client   LambdaAPI
	function string
	timeout  time.Duration
	log      zerolog.Logger
}

var _ credit.Executor = (*Lambda)(nil)

// NewLambda wraps client. A non-positive timeout uses DefaultTimeout.
func NewLambda(client LambdaAPI, function string, timeout time.Duration, log zerolog.Logger) *Lambda {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lambda{
		client:   client,
		function: function,
		timeout:  timeout,
		log:      log.With().Str("component", "lambda-executor").Str("function", function).Logger(),
	}
}

// NewLambdaFromEnv builds a client from the default AWS credential chain.
// An empty region falls back to the SDK's own resolution.
func NewLambdaFromEnv(ctx context.Context, region, function string, timeout time.Duration, log zerolog.Logger) (*Lambda, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewLambda(lambda.NewFromConfig(cfg), function, timeout, log), nil
}

// Invoke calls the function and returns its payload.
func (l *Lambda) Invoke(ctx context.Context, kind credit.Kind, operand1 float64, operand2 *float64) string {
	body, err := NewPayload(kind, operand1, operand2).Marshal()
	if err != nil {
		l.log.Error().Err(err).Msg("failed to encode payload")
		return credit.ProviderFailure
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(l.function),
		Payload:      body,
	})
	if err != nil {
		l.log.Debug().Err(err).Msg("error executing lambda function")
		return credit.ProviderFailure
	}
	if out.FunctionError != nil {
		l.log.Debug().Str("function_error", aws.ToString(out.FunctionError)).Msg("lambda function failed")
		return credit.ProviderFailure
	}
	return string(out.Payload)
}

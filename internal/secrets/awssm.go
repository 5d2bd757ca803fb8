package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider resolves secrets from AWS Secrets Manager. The lookup key is
// used directly as the SecretId.
type AWSProvider struct {
	client SecretsManagerAPI
	region string
}

// NewAWSProvider creates a Secrets Manager provider using the default AWS
// credential chain (env vars, shared config, instance role). Region may be
// empty, in which case the SDK's own resolution applies.
func NewAWSProvider(ctx context.Context, region string) (*AWSProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSProvider{
		client: secretsmanager.NewFromConfig(cfg),
		region: cfg.Region,
	}, nil
}

// NewAWSProviderWithClient creates a provider around an existing client.
// Used by tests to substitute a fake.
func NewAWSProviderWithClient(client SecretsManagerAPI) *AWSProvider {
	return &AWSProvider{client: client}
}

func (p *AWSProvider) Name() string { return "aws_secrets_manager" }

func (p *AWSProvider) Resolve(ctx context.Context, key string) (*Secret, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(key),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: no Secrets Manager secret %q", ErrSecretNotFound, key)
		}
		return nil, fmt.Errorf("%w: Secrets Manager lookup for %q: %v", ErrBackendUnavailable, key, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return nil, fmt.Errorf("%w: Secrets Manager secret %q has no string value", ErrSecretNotFound, key)
	}
	return &Secret{
		Value: *out.SecretString,
		Metadata: map[string]string{
			"source": "aws_secrets_manager",
			"name":   key,
		},
	}, nil
}

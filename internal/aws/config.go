package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// LoadAWSConfig reads AWS_REGION and AWS_ENDPOINT_OVERRIDE from the environment.
func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	return LoadAWSConfigFor(ctx, os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_OVERRIDE"))
}

// LoadAWSConfigFor builds the SDK config for an explicit region and optional endpoint
// (e.g. localstack at http://localhost:4566).
func LoadAWSConfigFor(ctx context.Context, region, endpoint string) (sdkaws.Config, error) {
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}

// Package awsapi loads AWS configuration and classifies SDK errors for the
// SNS and SES senders.
package awsapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go"

	"github.com/foxzi/herald/internal/errs"
)

// Config selects the region and optional static credentials
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load resolves an aws.Config from the default chain, overridden by static
// keys when given
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}

// Classify maps an SDK error to the dispatch taxonomy. Codes listed in
// invalidTarget mark the recipient as unusable.
func Classify(err error, invalidTarget ...string) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errs.KindOf(err) == errs.KindTransport {
			return errs.Transport(err)
		}
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return errs.Rejected(re.HTTPStatusCode(), err.Error(), "aws request failed")
		}
		return errs.Transport(err)
	}

	for _, code := range invalidTarget {
		if apiErr.ErrorCode() == code {
			return errs.Wrap(errs.KindInvalidTarget, err, "recipient rejected")
		}
	}

	status := 400
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	} else if apiErr.ErrorFault() == smithy.FaultServer {
		status = 500
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "ThrottledException":
		status = 429
	}
	return errs.Rejected(status, apiErr.ErrorMessage(), "%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
}

// Package s3probe checks an S3 key pair against the S3 compatible endpoint of the appliance.
package s3probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsV2Config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Result - buckets visible with the probed key pair
type Result struct {
	Endpoint string
	Owner    string
	Buckets  []string
}

// EndpointURL adds probe_scheme to a bare DS3 endpoint host
func EndpointURL(cfg *config.DS3Config) string {
	if strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	return cfg.ProbeScheme + "://" + cfg.Endpoint
}

// Probe issues a single ListBuckets signed with accessKey/secretKey
func Probe(ctx context.Context, cfg *config.DS3Config, accessKey, secretKey string) (*Result, error) {
	endpoint := EndpointURL(cfg)
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProbeSkipCertVerification {
		httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	awsConfig, err := awsV2Config.LoadDefaultConfig(
		ctx,
		awsV2Config.WithRegion(cfg.Region),
		awsV2Config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsV2Config.WithHTTPClient(&http.Client{Transport: httpTransport}),
		awsV2Config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "can't build aws config")
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})

	log.Debug().Str("endpoint", endpoint).Str("accessKey", accessKey).Msg("ListBuckets")
	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("S3 endpoint %s rejected the key pair: %s: %s", endpoint, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return nil, errors.Wrapf(err, "ListBuckets on %s", endpoint)
	}
	result := &Result{Endpoint: endpoint}
	if out.Owner != nil {
		result.Owner = aws.ToString(out.Owner.DisplayName)
	}
	for _, bucket := range out.Buckets {
		result.Buckets = append(result.Buckets, aws.ToString(bucket.Name))
	}
	return result, nil
}

package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Provider implements BucketProvider against AWS S3 using the SDK default
// credential chain.
type S3Provider struct {
	client *s3.Client
}

func NewS3Provider(ctx context.Context, region string) (*S3Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Provider{client: s3.NewFromConfig(cfg)}, nil
}

func (p *S3Provider) CreateBucket(ctx context.Context, name, region string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	_, err := p.client.CreateBucket(ctx, input)
	if err != nil {
		// A bucket we already own satisfies a replayed create step.
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return nil
}

func (p *S3Provider) DeleteBucket(ctx context.Context, name string) error {
	_, err := p.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var nope *types.NoSuchBucket
		if errors.As(err, &nope) {
			return nil
		}
		return fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return nil
}

func (p *S3Provider) CopyBucketObjects(ctx context.Context, src, dst string) (int, error) {
	copied := 0
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(src),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return copied, fmt.Errorf("list objects in %s: %w", src, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(dst),
				Key:        aws.String(key),
				CopySource: aws.String(src + "/" + key),
			})
			if err != nil {
				return copied, fmt.Errorf("copy %s/%s: %w", src, key, err)
			}
			copied++
		}
	}
	return copied, nil
}

// Package cloud defines the ports for provider-side operations invoked from
// flight steps. Every operation is opaque and possibly-failing; callers map
// a transient failure to a step retry via IsTransient and treat everything
// else as fatal.
package cloud

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks a provider failure worth retrying. Adapters wrap
// throttling/unavailability errors with Transient; steps check IsTransient.
var ErrTransient = errors.New("transient provider error")

func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// BucketProvider manages storage buckets.
type BucketProvider interface {
	CreateBucket(ctx context.Context, name, region string) error
	DeleteBucket(ctx context.Context, name string) error
	// CopyBucketObjects copies every object from src to dst and returns the
	// number of objects copied.
	CopyBucketObjects(ctx context.Context, src, dst string) (int, error)
}

// DatasetProvider manages analytic datasets.
type DatasetProvider interface {
	CreateDataset(ctx context.Context, name, region string) error
	DeleteDataset(ctx context.Context, name string) error
	CopyDataset(ctx context.Context, src, dst string) error
}

// InstanceProvider manages compute instances.
type InstanceProvider interface {
	CreateInstance(ctx context.Context, name, region, machineType string) error
	DeleteInstance(ctx context.Context, name string) error
}

// Providers bundles the per-concern ports handed to step factories.
type Providers struct {
	Buckets   BucketProvider
	Datasets  DatasetProvider
	Instances InstanceProvider
}

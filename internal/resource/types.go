// Package resource implements resource lifecycle operations as flights:
// create, delete, and clone, for every supported resource type. Per-type
// behavior lives in a lookup table of cloud operations rather than in type
// hierarchies, so adding a resource type means adding one table entry.
package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

// cloudOps is the per-type set of provider operations a flight step calls.
// Reference types have a zero entry: nothing cloud-side is owned for them.
type cloudOps struct {
	artifactName func(r *core.Resource) (string, error)
	rename       func(r *core.Resource, name string) error
	create       func(ctx context.Context, p cloud.Providers, r *core.Resource) error
	remove       func(ctx context.Context, p cloud.Providers, r *core.Resource) error
	// copyData moves the artifact's contents from src to dst. Nil for types
	// with no copyable payload (compute instances).
	copyData func(ctx context.Context, p cloud.Providers, src, dst *core.Resource) error
}

var opsByType = map[core.ResourceType]cloudOps{
	core.ResourceStorageBucket: {
		artifactName: func(r *core.Resource) (string, error) {
			var a core.BucketAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return "", fmt.Errorf("resource %s: decode bucket attributes: %w", r.ID, err)
			}
			return a.BucketName, nil
		},
		rename: func(r *core.Resource, name string) error {
			var a core.BucketAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			a.BucketName = name
			return setAttributes(r, a)
		},
		create: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.BucketAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Buckets.CreateBucket(ctx, a.BucketName, a.Region)
		},
		remove: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.BucketAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Buckets.DeleteBucket(ctx, a.BucketName)
		},
		copyData: func(ctx context.Context, p cloud.Providers, src, dst *core.Resource) error {
			var sa, da core.BucketAttributes
			if err := json.Unmarshal(src.Attributes, &sa); err != nil {
				return err
			}
			if err := json.Unmarshal(dst.Attributes, &da); err != nil {
				return err
			}
			_, err := p.Buckets.CopyBucketObjects(ctx, sa.BucketName, da.BucketName)
			return err
		},
	},

	core.ResourceAnalyticDataset: {
		artifactName: func(r *core.Resource) (string, error) {
			var a core.DatasetAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return "", fmt.Errorf("resource %s: decode dataset attributes: %w", r.ID, err)
			}
			return a.DatasetName, nil
		},
		rename: func(r *core.Resource, name string) error {
			var a core.DatasetAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			a.DatasetName = name
			return setAttributes(r, a)
		},
		create: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.DatasetAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Datasets.CreateDataset(ctx, a.DatasetName, a.Region)
		},
		remove: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.DatasetAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Datasets.DeleteDataset(ctx, a.DatasetName)
		},
		copyData: func(ctx context.Context, p cloud.Providers, src, dst *core.Resource) error {
			var sa, da core.DatasetAttributes
			if err := json.Unmarshal(src.Attributes, &sa); err != nil {
				return err
			}
			if err := json.Unmarshal(dst.Attributes, &da); err != nil {
				return err
			}
			return p.Datasets.CopyDataset(ctx, sa.DatasetName, da.DatasetName)
		},
	},

	core.ResourceComputeInstance: {
		artifactName: func(r *core.Resource) (string, error) {
			var a core.InstanceAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return "", fmt.Errorf("resource %s: decode instance attributes: %w", r.ID, err)
			}
			return a.InstanceName, nil
		},
		rename: func(r *core.Resource, name string) error {
			var a core.InstanceAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			a.InstanceName = name
			return setAttributes(r, a)
		},
		create: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.InstanceAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Instances.CreateInstance(ctx, a.InstanceName, a.Region, a.MachineType)
		},
		remove: func(ctx context.Context, p cloud.Providers, r *core.Resource) error {
			var a core.InstanceAttributes
			if err := json.Unmarshal(r.Attributes, &a); err != nil {
				return err
			}
			return p.Instances.DeleteInstance(ctx, a.InstanceName)
		},
	},

	core.ResourceSnapshotReference:  {},
	core.ResourceRepoReference:      {},
	core.ResourceWorkspaceReference: {},
}

func setAttributes(r *core.Resource, attrs any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	r.Attributes = raw
	return nil
}

func opsFor(t core.ResourceType) (cloudOps, error) {
	ops, ok := opsByType[t]
	if !ok {
		return cloudOps{}, core.NewAppErrorf(core.ErrBadRequest, "unsupported resource type %q", t)
	}
	return ops, nil
}

// hasCloudArtifact reports whether this resource owns a cloud-side object
// that create/delete flights must manage.
func hasCloudArtifact(r *core.Resource) bool {
	return r.IsControlled() && opsByType[r.Type].create != nil
}

package cloud

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is an in-memory implementation of every provider port. It
// backs the non-bucket resource types in production (provider calls are
// opaque to this system) and all of them in tests, where FailOps injects
// scripted failures.
type FakeProvider struct {
	mu        sync.Mutex
	buckets   map[string][]string // bucket name -> object keys
	datasets  map[string]bool
	instances map[string]bool

	// FailOps maps an op key like "CreateBucket:name" to the error the next
	// call returns. Use Transient(err) to script a retryable failure.
	FailOps map[string]error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		buckets:   map[string][]string{},
		datasets:  map[string]bool{},
		instances: map[string]bool{},
		FailOps:   map[string]error{},
	}
}

func (p *FakeProvider) fail(op, name string) error {
	if err, ok := p.FailOps[op+":"+name]; ok {
		delete(p.FailOps, op+":"+name)
		return err
	}
	return nil
}

func (p *FakeProvider) CreateBucket(ctx context.Context, name, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateBucket", name); err != nil {
		return err
	}
	if _, ok := p.buckets[name]; !ok {
		p.buckets[name] = []string{}
	}
	return nil
}

func (p *FakeProvider) DeleteBucket(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DeleteBucket", name); err != nil {
		return err
	}
	delete(p.buckets, name)
	return nil
}

func (p *FakeProvider) CopyBucketObjects(ctx context.Context, src, dst string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CopyBucketObjects", src); err != nil {
		return 0, err
	}
	objects, ok := p.buckets[src]
	if !ok {
		return 0, fmt.Errorf("source bucket %s does not exist", src)
	}
	if _, ok := p.buckets[dst]; !ok {
		return 0, fmt.Errorf("destination bucket %s does not exist", dst)
	}
	p.buckets[dst] = append(p.buckets[dst], objects...)
	return len(objects), nil
}

// SeedObjects places object keys into a bucket for copy tests.
func (p *FakeProvider) SeedObjects(bucket string, keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[bucket] = append(p.buckets[bucket], keys...)
}

// BucketExists reports whether the named bucket was created.
func (p *FakeProvider) BucketExists(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.buckets[name]
	return ok
}

// ObjectCount returns the number of objects in a bucket.
func (p *FakeProvider) ObjectCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets[name])
}

func (p *FakeProvider) CreateDataset(ctx context.Context, name, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateDataset", name); err != nil {
		return err
	}
	p.datasets[name] = true
	return nil
}

func (p *FakeProvider) DeleteDataset(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DeleteDataset", name); err != nil {
		return err
	}
	delete(p.datasets, name)
	return nil
}

func (p *FakeProvider) CopyDataset(ctx context.Context, src, dst string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CopyDataset", src); err != nil {
		return err
	}
	if !p.datasets[src] {
		return fmt.Errorf("source dataset %s does not exist", src)
	}
	p.datasets[dst] = true
	return nil
}

// DatasetExists reports whether the named dataset was created.
func (p *FakeProvider) DatasetExists(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.datasets[name]
}

func (p *FakeProvider) CreateInstance(ctx context.Context, name, region, machineType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("CreateInstance", name); err != nil {
		return err
	}
	p.instances[name] = true
	return nil
}

func (p *FakeProvider) DeleteInstance(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("DeleteInstance", name); err != nil {
		return err
	}
	delete(p.instances, name)
	return nil
}

// AllPorts returns a Providers bundle backed entirely by this fake.
func (p *FakeProvider) AllPorts() Providers {
	return Providers{Buckets: p, Datasets: p, Instances: p}
}

package manager

import (
	"context"
	"net/http"
	"sync"

	"github.com/oetiker/auto-ssl/internal/aliyun"
)

// ProviderClients are the Aliyun API handles of one access key
type ProviderClients struct {
	CDN *aliyun.CDN
	CAS *aliyun.CAS
}

// StoreFactory opens the bucket of an object store target
type StoreFactory func(ctx context.Context, target *ObjectStoreTarget) (ObjectStore, error)

// ClientRegistry caches API clients for the lifetime of a run. Entries
// sharing an access key share the clients.
type ClientRegistry struct {
	mu         sync.Mutex
	providers  map[string]*ProviderClients
	stores     map[string]ObjectStore
	newStore   StoreFactory
	aliyunOpts []aliyun.Option
}

// NewClientRegistry creates an empty registry. httpClient may be nil.
func NewClientRegistry(httpClient *http.Client) *ClientRegistry {
	r := &ClientRegistry{
		providers: make(map[string]*ProviderClients),
		stores:    make(map[string]ObjectStore),
	}
	r.newStore = func(ctx context.Context, target *ObjectStoreTarget) (ObjectStore, error) {
		return NewOSSStore(ctx, target, httpClient)
	}
	if httpClient != nil {
		r.aliyunOpts = append(r.aliyunOpts, aliyun.WithHTTPClient(httpClient))
	}
	return r
}

// WithStoreFactory replaces how buckets are opened
func (r *ClientRegistry) WithStoreFactory(f StoreFactory) *ClientRegistry {
	r.newStore = f
	return r
}

// WithAliyunOptions adds options applied to every new API client
func (r *ClientRegistry) WithAliyunOptions(opts ...aliyun.Option) *ClientRegistry {
	r.aliyunOpts = append(r.aliyunOpts, opts...)
	return r
}

// Provider returns the API clients for the target's access key
func (r *ClientRegistry) Provider(target *ObjectStoreTarget) *ProviderClients {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[target.AccessKeyID]; ok {
		return p
	}
	creds := aliyun.Credentials{AccessKeyID: target.AccessKeyID, AccessKeySecret: target.AccessKeySecret}
	p := &ProviderClients{
		CDN: aliyun.NewCDN(creds, r.aliyunOpts...),
		CAS: aliyun.NewCAS(creds, r.aliyunOpts...),
	}
	r.providers[target.AccessKeyID] = p
	return p
}

// Store returns the object store of the target's bucket
func (r *ClientRegistry) Store(ctx context.Context, target *ObjectStoreTarget) (ObjectStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := target.AccessKeyID + "/" + target.EndpointURL() + "/" + target.Bucket
	if s, ok := r.stores[key]; ok {
		return s, nil
	}
	s, err := r.newStore(ctx, target)
	if err != nil {
		return nil, err
	}
	r.stores[key] = s
	return s, nil
}

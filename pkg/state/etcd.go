package state

import (
	"context"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

const etcdOp = "state.etcd"

// Etcd stores job records in an etcd cluster. Every Set with a TTL
// grants its own lease, so records expire independently.
type Etcd struct {
	client *clientv3.Client
}

// NewEtcd connects to the configured endpoints. Addr holds one or more
// comma-separated endpoints.
func NewEtcd(cfg *config.StateConfig) (*Etcd, error) {
	endpoints := strings.Split(cfg.Addr, ",")
	for i := range endpoints {
		endpoints[i] = strings.TrimSpace(endpoints[i])
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fault.Wrapf(fault.KindExternalService, etcdOp, err, "etcd unreachable at %s", cfg.Addr)
	}
	return &Etcd{client: client}, nil
}

// Get returns the stored value.
func (e *Etcd) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return nil, false, fault.Wrap(fault.KindStorage, etcdOp, err)
	}
	if resp.Count == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Set stores value under key, attached to a fresh lease when a TTL is
// given. Lease grants round sub-second TTLs up to one second.
func (e *Etcd) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var opts []clientv3.OpOption
	if ttl > 0 {
		seconds := int64(ttl / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		lease, err := e.client.Grant(ctx, seconds)
		if err != nil {
			return fault.Wrap(fault.KindStorage, etcdOp, err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := e.client.Put(ctx, key, string(value), opts...); err != nil {
		return fault.Wrap(fault.KindStorage, etcdOp, err)
	}
	return nil
}

// Delete removes key.
func (e *Etcd) Delete(ctx context.Context, key string) error {
	if _, err := e.client.Delete(ctx, key); err != nil {
		return fault.Wrap(fault.KindStorage, etcdOp, err)
	}
	return nil
}

// Close releases the client connection.
func (e *Etcd) Close() error { return e.client.Close() }

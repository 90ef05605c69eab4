// etcd is used as a "distributed phonebook" for endpoints:
//
//	Key:   /mini-binder/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is removed, so clients never attach to a ghost endpoint.

package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/mini-binder/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	timeout time.Duration    // bound for each request to etcd
	logger  *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
	cancel map[string]context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints. logger may be nil.
func NewEtcdRegistry(endpoints []string, timeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	return &EtcdRegistry{
		client:  c,
		timeout: timeout,
		logger:  logger,
		leases:  make(map[string]clientv3.LeaseID),
		cancel:  make(map[string]context.CancelFunc),
	}, nil
}

func instanceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive in the background until Deregister or Close.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "grant lease")
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := instanceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	// The keepalive context outlives this call.
	kaCtx, kaCancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return errors.Wrap(err, "keep lease alive")
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	if old, ok := r.cancel[key]; ok {
		old()
	}
	r.leases[key] = lease.ID
	r.cancel[key] = kaCancel
	r.mu.Unlock()

	r.logger.Info("registered endpoint", zap.String("key", key), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := instanceKey(serviceName, addr)
	r.mu.Lock()
	lease, hasLease := r.leases[key]
	if stop, ok := r.cancel[key]; ok {
		stop()
	}
	delete(r.leases, key)
	delete(r.cancel, key)
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if hasLease {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Discover returns all instances currently registered under serviceName.
// Malformed entries are skipped.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", serviceName)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops all keepalives and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for _, stop := range r.cancel {
		stop()
	}
	r.cancel = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	return r.client.Close()
}

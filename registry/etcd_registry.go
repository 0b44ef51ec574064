// Package registry publishes switch health readings to etcd.
//
//	Key:   /switchtec-mrpc/readings/{escaped device path}
//	Value: Reading encoded with the configured codec (JSON by default)
//
// Each device's key is attached to a TTL lease kept alive in the background: if the
// monitor dies, the lease expires and the stale reading disappears on its own.
package registry

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"switchtec-mrpc/codec"
	"switchtec-mrpc/logger"
)

const Prefix = "/switchtec-mrpc/readings/"

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc // stops the KeepAlive loop
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	codec  codec.Codec

	mu     sync.Mutex
	leases map[string]*lease // by device

	log *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints. c encodes the stored readings.
func NewEtcdRegistry(endpoints []string, c codec.Codec) (*EtcdRegistry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	return newEtcdRegistry(cli, c), nil
}

func newEtcdRegistry(cli *clientv3.Client, c codec.Codec) *EtcdRegistry {
	if c == nil {
		c = &codec.JSONCodec{}
	}
	return &EtcdRegistry{
		client: cli,
		codec:  c,
		leases: make(map[string]*lease),
		log:    logger.L().Named("registry"),
	}
}

// Key returns the etcd key a device's reading is stored under.
func Key(device string) string {
	return Prefix + url.PathEscape(device)
}

// Publish stores reading under its device key.
//
// The first publish for a device grants a lease with the given TTL and starts
// KeepAlive; later publishes reuse it while it lives. A lease that expired (etcd
// unreachable, or the publisher stalled past the TTL) is replaced by a fresh one.
func (r *EtcdRegistry) Publish(ctx context.Context, reading Reading, ttl int64) error {
	val, err := r.codec.Encode(&reading)
	if err != nil {
		return errors.Wrap(err, "encode reading")
	}

	for attempt := 0; ; attempt++ {
		l, err := r.leaseFor(ctx, reading.Device, ttl)
		if err != nil {
			return err
		}

		_, err = r.client.Put(ctx, Key(reading.Device), string(val), clientv3.WithLease(l.id))
		if errors.Is(err, rpctypes.ErrLeaseNotFound) && attempt == 0 {
			r.log.Info("lease expired, granting a new one", zap.String("device", reading.Device))
			r.forget(reading.Device, l.id)
			continue
		}
		return errors.Wrapf(err, "put %s", Key(reading.Device))
	}
}

func (r *EtcdRegistry) leaseFor(ctx context.Context, device string, ttl int64) (*lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.leases[device]; ok {
		return l, nil
	}

	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return nil, errors.Wrap(err, "grant lease")
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "keep lease alive")
	}

	// Consume KeepAlive responses so the channel never fills up. The channel closes
	// when the lease is gone; drop it so the next publish grants a new one.
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("device", device))
		r.forget(device, grant.ID)
	}()

	l := &lease{id: grant.ID, cancel: cancel}
	r.leases[device] = l
	return l, nil
}

// forget drops the cached lease of device if it is still id, and stops its KeepAlive.
func (r *EtcdRegistry) forget(device string, id clientv3.LeaseID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leases[device]; ok && l.id == id {
		l.cancel()
		delete(r.leases, device)
	}
}

// Withdraw removes a device's reading and releases its lease.
func (r *EtcdRegistry) Withdraw(ctx context.Context, device string) error {
	r.mu.Lock()
	l, ok := r.leases[device]
	delete(r.leases, device)
	r.mu.Unlock()

	if ok {
		l.cancel()
		// Revoking the lease deletes every key attached to it
		_, err := r.client.Revoke(ctx, l.id)
		return errors.Wrap(err, "revoke lease")
	}

	_, err := r.client.Delete(ctx, Key(device))
	return errors.Wrap(err, "delete reading")
}

// Lookup returns the current reading of every published device.
func (r *EtcdRegistry) Lookup(ctx context.Context) ([]Reading, error) {
	resp, err := r.client.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "get readings")
	}

	readings := make([]Reading, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var reading Reading
		if err := r.codec.Decode(kv.Value, &reading); err != nil {
			r.log.Warn("skipping malformed reading", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// Watch emits the full reading list whenever any reading changes, until ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []Reading {
	ch := make(chan []Reading, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, Prefix, clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list rather than applying individual events
			readings, err := r.Lookup(ctx)
			if err != nil {
				continue
			}
			select {
			case ch <- readings:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every KeepAlive and closes the etcd client. Published readings then
// expire with their leases.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for device, l := range r.leases {
		l.cancel()
		delete(r.leases, device)
	}
	r.mu.Unlock()
	return r.client.Close()
}

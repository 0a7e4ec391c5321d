package webhook

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Deduper remembers processed delivery ids so replayed webhooks can be
// acknowledged without reapplying their side effects. Seen is a read-only
// check; Record is called only after a delivery has been handled, so a
// failed apply leaves the id unrecorded and the provider's redelivery is
// processed again.
type Deduper interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	Record(ctx context.Context, deliveryID string) error
	Close() error
}

// memoryDeduper keeps delivery ids in process memory with per-entry expiry.
// It is the default for single-instance deployments and for tests.
type memoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeduper builds an in-process Deduper retaining ids for ttl.
func NewMemoryDeduper(ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &memoryDeduper{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *memoryDeduper) Seen(_ context.Context, deliveryID string) (bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, expires := range d.entries {
		if now.After(expires) {
			delete(d.entries, id)
		}
	}
	expires, ok := d.entries[deliveryID]
	return ok && now.Before(expires), nil
}

func (d *memoryDeduper) Record(_ context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[deliveryID] = d.now().Add(d.ttl)
	return nil
}

func (d *memoryDeduper) Close() error { return nil }

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisDeduperConfig configures the Redis-backed delivery dedup store used
// when multiple instances share webhook traffic.
type RedisDeduperConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

type redisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper initialises a dedup store backed by Redis keys with a
// retention TTL. The caller is responsible for ensuring the Redis instance
// is reachable.
func NewRedisDeduper(cfg RedisDeduperConfig) (Deduper, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "fanstream:webhook"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &redisDeduper{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (d *redisDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return false, nil
	}
	exists, err := d.client.Exists(ctx, d.prefix+":"+deliveryID).Result()
	if err != nil {
		return false, fmt.Errorf("check webhook delivery: %w", err)
	}
	return exists > 0, nil
}

func (d *redisDeduper) Record(ctx context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return nil
	}
	if err := d.client.Set(ctx, d.prefix+":"+deliveryID, "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

func (d *redisDeduper) Close() error {
	return d.client.Close()
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("redis tls cert and key must both be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

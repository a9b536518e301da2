package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/creditmate/card-data-worker/config"
)

// FingerprintCache keeps the last-known content fingerprint per source so
// change detection can skip a database read on the hot path. A miss is
// never an error: the caller falls back to the source row.
type FingerprintCache interface {
	GetFingerprint(sourceID int64) (string, bool)
	SaveFingerprint(sourceID int64, fingerprint string)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) GetFingerprint(sourceID int64) (string, bool) {
	item, err := mc.client.Get(fingerprintKey(sourceID))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to read fingerprint from cache.",
				slog.Int64("source_id", sourceID), slog.String("err", err.Error()))
		}
		return "", false
	}

	return string(item.Value), true
}

func (mc *MemcachedClient) SaveFingerprint(sourceID int64, fingerprint string) {
	if fingerprint == "" {
		return
	}
	err := mc.client.Set(&memcache.Item{
		Key:        fingerprintKey(sourceID),
		Value:      []byte(fingerprint),
		Expiration: int32((mc.cfg.TtlForFingerprint).Seconds()),
	})
	if err != nil {
		mc.log.Error("failed to save fingerprint to cache.",
			slog.Int64("source_id", sourceID), slog.String("err", err.Error()))
		return
	}
	mc.log.Debug("fingerprint saved to cache.", slog.Int64("source_id", sourceID))
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func fingerprintKey(sourceID int64) string {
	return fmt.Sprintf("source-%d-fingerprint", sourceID)
}

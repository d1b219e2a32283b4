package store

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
)

// CachedKeyStore fronts a KeyStore with a TTL cache so adapters can look a
// key up on every request without hitting the database. It satisfies
// provider.KeySource.
type CachedKeyStore struct {
	next  KeyStore
	cache *ttlcache.Cache[provider.ID, string]
	log   *logging.Logger
}

var (
	_ KeyStore           = (*CachedKeyStore)(nil)
	_ provider.KeySource = (*CachedKeyStore)(nil)
)

// NewCachedKeyStore wraps next. A ttl of zero disables caching.
func NewCachedKeyStore(next KeyStore, ttl time.Duration, log *logging.Logger) *CachedKeyStore {
	k := &CachedKeyStore{next: next, log: log.Sub("keys")}
	if ttl > 0 {
		k.cache = ttlcache.New[provider.ID, string](
			ttlcache.WithTTL[provider.ID, string](ttl),
			// Entries expire on schedule even when read constantly, so a key
			// changed outside this process is picked up.
			ttlcache.WithDisableTouchOnHit[provider.ID, string](),
		)
		go k.cache.Start()
	}
	return k
}

// GetKey returns the key, from cache when fresh.
func (k *CachedKeyStore) GetKey(id provider.ID) (string, error) {
	if k.cache != nil {
		if item := k.cache.Get(id); item != nil {
			return item.Value(), nil
		}
	}
	key, err := k.next.GetKey(id)
	if err != nil {
		return "", err
	}
	if k.cache != nil {
		k.cache.Set(id, key, ttlcache.DefaultTTL)
	}
	return key, nil
}

// SetKey writes through and refreshes the cache.
func (k *CachedKeyStore) SetKey(id provider.ID, key string) error {
	if err := k.next.SetKey(id, key); err != nil {
		return err
	}
	if k.cache != nil {
		k.cache.Set(id, key, ttlcache.DefaultTTL)
	}
	k.log.Info().Str("provider", string(id)).Msg("api key updated")
	return nil
}

// DeleteKey removes the key and its cached value.
func (k *CachedKeyStore) DeleteKey(id provider.ID) error {
	if err := k.next.DeleteKey(id); err != nil {
		return err
	}
	if k.cache != nil {
		k.cache.Delete(id)
	}
	k.log.Info().Str("provider", string(id)).Msg("api key removed")
	return nil
}

// Stop ends the cache's expiry loop.
func (k *CachedKeyStore) Stop() {
	if k.cache != nil {
		k.cache.Stop()
	}
}

// OverrideKeys serves keys from Overrides when present and non-empty, and
// from Next otherwise. Keys set in the config file take precedence over
// stored ones.
type OverrideKeys struct {
	Overrides map[provider.ID]string
	Next      provider.KeySource
}

// GetKey implements provider.KeySource.
func (o OverrideKeys) GetKey(id provider.ID) (string, error) {
	if k := o.Overrides[id]; k != "" {
		return k, nil
	}
	if o.Next == nil {
		return "", nil
	}
	return o.Next.GetKey(id)
}

package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// presigned read URLs stay valid this long
const presignedURLExpiration = 15 * time.Minute

// cache entries drop before the URL itself expires
const cachedURLLifetime = 12 * time.Minute

type URLCacheServiceProvider interface {
	GetReadURL(ctx context.Context, objectKey string) (string, error)
}

// URLCacheService memoizes presigned R2 read URLs for one bucket so the
// wardrobe and history listings don't re-sign the same garment photo on
// every request. Built on a loadable eko/gocache over Ristretto.
type URLCacheService struct {
	cache      *cache.LoadableCache[string]
	bucketName string
}

func NewURLCacheService(awsService *AWSService, bucketName string) (*URLCacheService, error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,     // 10M
		MaxCost:     1 << 27, // 1GB
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	ristrettoStore := ristretto_store.NewRistretto(ristrettoCache)

	// on a miss, presign against R2 and cache the result
	loadFunction := func(ctx context.Context, key any) (string, []store.Option, error) {
		objectKey, ok := key.(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid key type provided to URL cache: expected string, got %T", key)
		}

		log.Printf("CACHE MISS for key: %s. Generating new presigned URL.", objectKey)
		url, err := awsService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
		return url, []store.Option{store.WithExpiration(cachedURLLifetime)}, err
	}

	loadableCache := cache.NewLoadable[string](
		loadFunction,
		cache.New[string](ristrettoStore),
	)
	fmt.Println("Initialized URL cache for bucket", bucketName)
	return &URLCacheService{
		cache:      loadableCache,
		bucketName: bucketName,
	}, nil
}

func (s *URLCacheService) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", nil
	}

	return s.cache.Get(ctx, objectKey)
}

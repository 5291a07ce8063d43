package main

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/store"
)

// storeLoader builds a cache.Loader that reads through to the durable
// store on a prefetch miss, so the prefetcher's predicted keys (see
// internal/cache's Prefetcher) actually get populated in the running
// binary instead of only in tests that install their own loader.
func storeLoader(st *store.Store) cache.Loader {
	return func(ctx context.Context, key string) ([]byte, *cache.SetOptions, error) {
		switch {
		case strings.HasPrefix(key, "tx/"):
			tx, err := st.GetTransaction(strings.TrimPrefix(key, "tx/"))
			if err != nil {
				return nil, nil, err
			}
			data, err := gobEncode(tx)
			return data, nil, err
		case strings.HasPrefix(key, "batch/"):
			b, err := st.GetBatch(strings.TrimPrefix(key, "batch/"))
			if err != nil {
				return nil, nil, err
			}
			data, err := gobEncode(b)
			return data, nil, err
		case strings.HasPrefix(key, "account/"):
			a, err := st.GetAccount(strings.TrimPrefix(key, "account/"))
			if err != nil {
				return nil, nil, err
			}
			data, err := gobEncode(a)
			return data, nil, err
		default:
			return nil, nil, fmt.Errorf("cacheloader: no store mapping for key %q", key)
		}
	}
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

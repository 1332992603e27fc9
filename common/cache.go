// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Two-tier cache: an in-process LRU in front of an optional shared
// redis. Values are lz4 compressed; benchmark price series compress
// well and redis round-trips dominate otherwise.

var ErrCacheMiss = errors.New("key not cached")

var (
	cacheCtx = context.Background()
	rdb      *redis.Client
	local    *lru.Cache
)

func SetupCache() {
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
	}

	var err error
	local, err = lru.New(viper.GetInt("cache.local_size"))
	if err != nil {
		log.Error().Err(err).Msg("could not create LRU cache")
		os.Exit(1)
	}
}

func cacheTTL() time.Duration {
	return time.Duration(viper.GetInt("cache.ttl")) * time.Second
}

func CacheSet(key string, val []byte) error {
	if local == nil {
		return ErrCacheMiss
	}

	compressed, err := Compress(val)
	if err != nil {
		return err
	}
	local.Add(key, compressed)

	if rdb != nil {
		return rdb.Set(cacheCtx, key, compressed, cacheTTL()).Err()
	}
	return nil
}

func CacheGet(key string) ([]byte, error) {
	if local == nil {
		return nil, ErrCacheMiss
	}

	if hit, ok := local.Get(key); ok {
		return Decompress(hit.([]byte))
	}

	if rdb != nil {
		// GetEx refreshes the TTL on read
		val, err := rdb.GetEx(cacheCtx, key, cacheTTL()).Bytes()
		if err != nil {
			return nil, err
		}
		local.Add(key, val)
		return Decompress(val)
	}

	return nil, ErrCacheMiss
}

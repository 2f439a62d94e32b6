// Copyright 2024 ChunkVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the lookup caches of the VFS layer.
//
// Caches here are advisory: a hit is always re-checked against the store
// it names, so a stale entry costs one extra lookup, never a wrong answer.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via CHUNKVFS_CACHE=0 environment variable.
// When true, LookupCache.Get always misses and LookupCache.Set is a no-op.
var Disabled = os.Getenv("CHUNKVFS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}

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
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	log "github.com/sirupsen/logrus"

	"chunkvfs/internal/config"
	"chunkvfs/internal/util"
	"chunkvfs/internal/vfs"
)

// lockTimeout bounds how long a command waits for another process to
// release the storage directory.
const lockTimeout = 5 * time.Second

// withVFS locks the storage directory, loads every storage file in it and
// runs fn. The VFS is shut down and the lock released afterwards.
func withVFS(fn func(v *vfs.VFS) error) (err error) {
	dir := settings.ResolveStorageDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	lock, err := util.AcquireLock(ctx, config.LockPath(dir))
	if err != nil {
		return fmt.Errorf("storage directory %s is busy: %w", dir, err)
	}
	defer lock.Release()

	v, err := vfs.New(osfs.New(dir),
		vfs.WithStoragePrefix(settings.StoragePrefix),
		vfs.WithSizeLimit(settings.SizeLimit),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := v.Shutdown(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := v.LoadStorageFiles()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"dir": dir, "stores": n}).Debug("loaded storage files")

	return fn(v)
}

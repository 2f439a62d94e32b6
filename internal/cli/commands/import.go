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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chunkvfs/internal/common"
	"chunkvfs/internal/filter"
	"chunkvfs/internal/vfs"
)

var importCmd = &cobra.Command{
	Use:   "import <host-dir> [prefix]",
	Short: "Copy a host directory tree into the VFS",
	Long: `Copy every regular file under a host directory into the VFS, below prefix.

.git directories are always skipped. When gitignore is enabled in the
settings, files matched by .gitignore rules are skipped too, as are the
patterns listed under excludes.

Examples:
  chunkvfs import ./project
  chunkvfs import ./project backups/project`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", root)
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}

	ff := filter.BuildFileFilter(root, settings.GitignoreEnabled(), settings.Excludes)

	return withVFS(func(v *vfs.VFS) error {
		b := vfs.NewBillyAdapter(v)
		var files, bytes int64
		err := filter.Walk(root, ff, func(rel string, info fs.FileInfo) error {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			target := common.JoinPath(prefix, rel)
			if err := util.WriteFile(b, target, data, 0644); err != nil {
				return fmt.Errorf("failed to import %s: %w", rel, err)
			}
			log.WithFields(log.Fields{"path": target, "size": len(data)}).Debug("imported file")
			files++
			bytes += int64(len(data))
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d files (%d bytes) into %d storage files\n", files, bytes, len(v.Stores()))
		return nil
	})
}

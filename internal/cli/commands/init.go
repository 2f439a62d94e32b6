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
	"os"

	"github.com/spf13/cobra"

	"chunkvfs/internal/config"
	"chunkvfs/internal/vfs"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the storage directory",
	Long: `Create the storage directory and its first storage file.

The settings file in the config directory (~/.chunkvfs by default, or
$CHUNKVFS_CONFIG_DIR) is created with defaults if missing and is never
overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dir := settings.ResolveStorageDir()

	if _, err := os.Stat(dir); err == nil {
		fmt.Fprintf(out, "Reinitialized existing storage in %s\n", dir)
	} else {
		fmt.Fprintf(out, "Initialized empty storage in %s\n", dir)
	}

	return withVFS(func(v *vfs.VFS) error {
		if len(v.Stores()) > 0 {
			fmt.Fprintf(out, "  %d storage files already present (not modified)\n", len(v.Stores()))
			return nil
		}
		name := settings.StoragePrefix + "0"
		if err := v.AddStorageFile(name); err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		fmt.Fprintf(out, "  created %s\n", name)
		fmt.Fprintf(out, "  settings: %s\n", config.SettingsPath())
		return nil
	})
}

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
	"io"
	"os"

	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"

	"chunkvfs/internal/vfs"
)

var putCmd = &cobra.Command{
	Use:   "put <host-file> <path>",
	Short: "Copy a host file into the VFS",
	Long: `Copy a file from the host file system into the VFS, replacing any file
already stored at path. Missing parent directories are created.

Examples:
  chunkvfs put ./notes.txt docs/notes.txt
  chunkvfs put - logs/today.log < today.log`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	return withVFS(func(v *vfs.VFS) error {
		if err := util.WriteFile(vfs.NewBillyAdapter(v), args[1], data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%d bytes)\n", args[1], len(data))
		return nil
	})
}

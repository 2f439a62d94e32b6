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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chunkvfs/internal/vfs"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file stored in the VFS",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	return withVFS(func(v *vfs.VFS) error {
		f, err := v.Open(args[0])
		if err != nil {
			return err
		}
		defer v.Close(f)

		out := cmd.OutOrStdout()
		buf := make([]byte, 32*1024)
		for {
			n, err := v.Read(f, buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
		}
	})
}


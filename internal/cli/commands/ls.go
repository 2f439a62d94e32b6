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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chunkvfs/internal/vfs"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory in the VFS",
	Long: `List the entries of a directory, merged across all storage files.

Examples:
  chunkvfs ls
  chunkvfs ls docs -l`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "show size and storage file")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	return withVFS(func(v *vfs.VFS) error {
		entries, err := v.ReadDir(path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, e := range entries {
			name := e.Name
			if e.IsDir() {
				name += "/"
			}
			if lsLong {
				fmt.Fprintf(w, "%d\t%s\t%s\n", e.Size, e.Store, name)
			} else {
				fmt.Fprintln(w, name)
			}
		}
		return w.Flush()
	})
}

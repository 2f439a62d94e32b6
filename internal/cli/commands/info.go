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
	"text/tabwriter"

	farm "github.com/dgryski/go-farm"
	"github.com/spf13/cobra"

	"chunkvfs/internal/storage"
	"chunkvfs/internal/vfs"
)

var infoCmd = &cobra.Command{
	Use:   "info [path]",
	Short: "Show storage files or details about one stored file",
	Long: `Without arguments, list every storage file with its size and tree length.

With a path, show which storage file holds it, its size, the offsets of
its chunk chain and a fingerprint of its content.

Examples:
  chunkvfs info
  chunkvfs info docs/notes.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withVFS(func(v *vfs.VFS) error {
		if len(args) == 0 {
			return printStores(cmd.OutOrStdout(), v)
		}
		return printFileInfo(cmd.OutOrStdout(), v, args[0])
	})
}

func printStores(out io.Writer, v *vfs.VFS) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tSIZE\tTREE\tLIMIT")
	for _, name := range v.Stores() {
		s, ok := v.StorageFile(name)
		if !ok {
			continue
		}
		size, err := s.Size()
		if err != nil {
			return err
		}
		limit := "unlimited"
		if l := v.SizeLimit(); l > 0 {
			limit = fmt.Sprintf("%d", l)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, size, s.TreeLength(), limit)
	}
	return w.Flush()
}

func printFileInfo(out io.Writer, v *vfs.VFS, path string) error {
	entry, err := v.Stat(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "path:   %s\n", path)
	fmt.Fprintf(out, "store:  %s\n", entry.Store)
	if entry.IsDir() {
		fmt.Fprintln(out, "type:   directory")
		return nil
	}
	fmt.Fprintln(out, "type:   file")
	fmt.Fprintf(out, "size:   %d\n", entry.Size)

	s, ok := v.StorageFile(entry.Store)
	if !ok {
		return fmt.Errorf("storage file %s is not loaded", entry.Store)
	}
	var chunks []uint64
	err = s.WalkChunks(path, func(off uint64, _ storage.ChunkHeader) error {
		chunks = append(chunks, off)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "chunks: %d %v\n", len(chunks), chunks)

	sum, err := fingerprint(v, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "farm64: %016x\n", sum)
	return nil
}

// fingerprint hashes the whole content of the file at path.
func fingerprint(v *vfs.VFS, path string) (uint64, error) {
	f, err := v.Open(path)
	if err != nil {
		return 0, err
	}
	defer v.Close(f)

	var data []byte
	buf := make([]byte, storage.ChunkPayloadSize)
	for {
		n, err := v.Read(f, buf)
		data = append(data, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return farm.Fingerprint64(data), nil
}

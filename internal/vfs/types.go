package vfs

// FileType represents the type of a filesystem entry
type FileType int

const (
	// FileTypeRegularFile is a regular file
	FileTypeRegularFile FileType = iota
	// FileTypeDirectory is a directory
	FileTypeDirectory
)

// Entry describes a file or directory as seen through the VFS. Directories
// may exist in several storage files; Store names the first one found.
type Entry struct {
	Name  string
	Type  FileType
	Size  uint64
	Store string
}

// IsDir reports whether the entry is a directory
func (e Entry) IsDir() bool {
	return e.Type == FileTypeDirectory
}

package fs

import (
	iofs "io/fs"
)

// FileSystem is the read side the build pipeline walks sources through.
type FileSystem interface {
	Stat(path string) (iofs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WalkDir(root string, fn iofs.WalkDirFunc) error
}

var _ FileSystem = (*OSFileSystem)(nil)

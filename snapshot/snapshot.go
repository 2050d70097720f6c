// Copyright 2025 Poiesic Systems
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

package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is the suffix format of backup names: <name>_<YYYYMMDD_HHMMSS>.
const TimestampLayout = "20060102_150405"

var (
	// ErrBackupFailed indicates the previous snapshot could not be backed up,
	// in which case the target is left untouched.
	ErrBackupFailed = errors.New("backup failed")

	// ErrWriteFailed indicates the new snapshot could not be written.
	ErrWriteFailed = errors.New("snapshot write failed")
)

// File is a JSON document on disk with a backup directory.
type File struct {
	Path      string
	BackupDir string

	now func() time.Time
}

// New returns a File for path whose backups go to backupDir.
func New(path, backupDir string) *File {
	return &File{Path: path, BackupDir: backupDir, now: time.Now}
}

// Load decodes the file into v.
// A missing file leaves v untouched and returns (false, nil).
// An undecodable file is moved to the backup directory and Load returns
// (true, nil) with v untouched, so the caller can continue with an empty value.
func (f *File) Load(v any) (recovered bool, err error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		if _, berr := Backup(f.Path, f.BackupDir, f.now()); berr != nil {
			return false, fmt.Errorf("%w: %w", ErrBackupFailed, berr)
		}
		if rerr := os.Remove(f.Path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return false, rerr
		}
		return true, nil
	}
	return false, nil
}

// Save backs up the current file, if any, and atomically replaces it with
// the pretty-printed JSON encoding of v.
func (f *File) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	if _, err := os.Stat(f.Path); err == nil {
		if _, err := Backup(f.Path, f.BackupDir, f.now()); err != nil {
			return fmt.Errorf("%w: %w", ErrBackupFailed, err)
		}
	}

	if err := writeAtomic(f.Path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Backup copies path (a file or a directory tree) into backupDir as
// <base>_<YYYYMMDD_HHMMSS>, adding _N on collision. Returns the backup path.
func Backup(path, backupDir string, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", err
	}

	base := fmt.Sprintf("%s_%s", filepath.Base(path), now.Format(TimestampLayout))
	dst := filepath.Join(backupDir, base)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		}
		dst = filepath.Join(backupDir, fmt.Sprintf("%s_%d", base, i))
	}

	if info.IsDir() {
		return dst, copyDir(path, dst)
	}
	return dst, copyFile(path, dst, info.Mode().Perm())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyFile copies a single regular file, creating parent directories.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

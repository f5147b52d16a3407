package acme

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

type FileSystemPersist struct {
	rootPath string
}

func NewFileSystemPersist(rootPath string) (*FileSystemPersist, error) {
	if err := os.MkdirAll(rootPath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create directory %q: %w", rootPath, err)
	}

	p := FileSystemPersist{
		rootPath: rootPath,
	}

	return &p, nil
}

func (p *FileSystemPersist) Get(key PersistKey) ([]byte, error) {
	filePath := p.filePath(key)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("cannot read %q: %w", filePath, err)
	}

	return data, nil
}

// Put writes the value to a uniquely named temporary file and renames it, so
// that concurrent writers of the same key never observe a partial file.
func (p *FileSystemPersist) Put(key PersistKey, value []byte) error {
	filePath := p.filePath(key)

	file, err := os.CreateTemp(filepath.Dir(filePath),
		filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create temporary file: %w", err)
	}
	tmpPath := file.Name()

	if err := p.writeFile(file, value); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cannot write %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cannot rename %q to %q: %w", tmpPath, filePath, err)
	}

	return nil
}

func (p *FileSystemPersist) writeFile(file *os.File, value []byte) error {
	if err := file.Chmod(0600); err != nil {
		file.Close()
		return err
	}

	if _, err := file.Write(value); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}

func (p *FileSystemPersist) filePath(key PersistKey) string {
	// Keys containing slashes must stay inside the root directory.
	fileName := url.PathEscape(key.String()) + ".pem"
	return filepath.Join(p.rootPath, fileName)
}

package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider stores artifacts on the local filesystem under a root
// directory. Keys use forward slashes regardless of OS.
type LocalProvider struct {
	root string
}

// NewLocalProvider creates a filesystem-backed provider rooted at root.
func NewLocalProvider(root string) *LocalProvider {
	_ = os.MkdirAll(root, 0o755)
	return &LocalProvider{root: root}
}

func (l *LocalProvider) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalProvider) Put(key string, body io.ReadSeeker, contentType string) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, body)
	return err
}

func (l *LocalProvider) Get(key string) (*Object, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Object{
		Body:          f,
		ContentLength: stat.Size(),
		ContentType:   "application/octet-stream",
		LastModified:  stat.ModTime(),
	}, nil
}

func (l *LocalProvider) Delete(key string) error {
	return os.Remove(l.path(key))
}

func (l *LocalProvider) Exists(key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalProvider) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrNoPresign is returned by stores that cannot mint URLs; callers
// serve the local file directly instead.
var ErrNoPresign = errors.New("store does not support presigned URLs")

// LocalStore keeps artifacts in a plain directory. It stands in for the
// object store in local deployments and tests; exists/size/serving
// behave the same as the remote store.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &LocalStore{Dir: dir}, nil
}

// Path returns the local path backing a storage key.
func (s *LocalStore) Path(storageKey string) string {
	return filepath.Join(s.Dir, storageKey)
}

func (s *LocalStore) Put(_ context.Context, storageKey string, localPath string) error {
	dst := s.Path(storageKey)
	if same, err := sameFile(localPath, dst); err != nil {
		return err
	} else if same {
		return nil
	}
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return out.Close()
}

func (s *LocalStore) Delete(_ context.Context, storageKey string) error {
	err := os.Remove(s.Path(storageKey))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, storageKey string) (bool, error) {
	_, err := os.Stat(s.Path(storageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) Size(_ context.Context, storageKey string) (int64, error) {
	info, err := os.Stat(s.Path(storageKey))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrNoPresign
}

func sameFile(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

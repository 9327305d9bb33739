package service

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kitabi/backend/models"
)

// ErrUnresolvable means the storage locator does not lead to servable bytes:
// traversal outside the root, a missing file behind available metadata, or a
// storage backend failure. Delivery fails closed on it.
var ErrUnresolvable = errors.New("storage locator unresolvable")

const s3Scheme = "s3://"

// resolveTimeout bounds remote metadata lookups during resolution.
const resolveTimeout = 5 * time.Second

// StorageHandle is an openable, pre-validated storage resource. Open returns
// a reader positioned at offset covering at most length bytes; the caller
// closes it, which releases the underlying file or connection.
type StorageHandle struct {
	Size    int64
	ModTime time.Time
	open    func(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

func (h *StorageHandle) Open(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	return h.open(ctx, offset, length)
}

// Locator maps a book's FileRef to a storage handle. Local locators are
// confined to the configured root; locators with an s3:// prefix resolve
// through the S3 backend when one is configured.
type Locator struct {
	root string
	s3   *S3Service // nil when no bucket is configured
}

func NewLocator(root string, s3 *S3Service) (*Locator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Locator{root: abs, s3: s3}, nil
}

// Resolve validates the locator for (book, format) and returns a handle, or
// ErrUnresolvable. A FileRef marked available whose bytes cannot be found is
// a data-integrity inconsistency and is logged as such, distinct from a
// plain not-found.
func (l *Locator) Resolve(ctx context.Context, book *models.Book, format string) (*StorageHandle, error) {
	ref, ok := book.File(format)
	if !ok || ref.StorageLocator == "" {
		return nil, ErrUnresolvable
	}
	if strings.HasPrefix(ref.StorageLocator, s3Scheme) {
		return l.resolveS3(ctx, book, format, strings.TrimPrefix(ref.StorageLocator, s3Scheme))
	}
	return l.resolveLocal(book, format, ref.StorageLocator)
}

func (l *Locator) resolveLocal(book *models.Book, format, locator string) (*StorageHandle, error) {
	path := filepath.Clean(filepath.Join(l.root, filepath.FromSlash(locator)))
	if path != l.root && !strings.HasPrefix(path, l.root+string(os.PathSeparator)) {
		// Traversal attempt; reject before touching the filesystem.
		log.Printf("locator: rejected locator escaping storage root: book=%s format=%s locator=%q",
			book.ID.Hex(), format, locator)
		return nil, ErrUnresolvable
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		log.Printf("locator: integrity inconsistency: metadata claims available but file is missing: book=%s format=%s locator=%q err=%v",
			book.ID.Hex(), format, locator, err)
		return nil, ErrUnresolvable
	}
	return &StorageHandle{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		open: func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			if offset > 0 {
				if _, err := f.Seek(offset, io.SeekStart); err != nil {
					f.Close()
					return nil, err
				}
			}
			return f, nil
		},
	}, nil
}

func (l *Locator) resolveS3(ctx context.Context, book *models.Book, format, key string) (*StorageHandle, error) {
	if l.s3 == nil {
		log.Printf("locator: s3 locator but no bucket configured: book=%s format=%s", book.ID.Hex(), format)
		return nil, ErrUnresolvable
	}
	headCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	size, modTime, err := l.s3.Head(headCtx, key)
	if err != nil {
		log.Printf("locator: integrity inconsistency: metadata claims available but object is missing: book=%s format=%s key=%q err=%v",
			book.ID.Hex(), format, key, err)
		return nil, ErrUnresolvable
	}
	return &StorageHandle{
		Size:    size,
		ModTime: modTime,
		open: func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
			return l.s3.OpenRange(ctx, key, offset, length)
		},
	}, nil
}

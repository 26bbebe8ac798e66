// Package upload sends a listing's images to object storage concurrently and joins the
// results in selection order. A batch succeeds only if every image does.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/storage"
)

// Image is one selected file. Open is called once, inside the upload goroutine.
type Image struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Progress reports bytes sent for the image at Index.
type Progress struct {
	Index      int
	Filename   string
	BytesSent  int64
	TotalBytes int64
}

// Percent returns the rounded completion percentage.
func (p Progress) Percent() int {
	if p.TotalBytes <= 0 {
		return 0
	}
	return int((p.BytesSent*100 + p.TotalBytes/2) / p.TotalBytes)
}

// Result is a stored image.
type Result struct {
	Index int
	Key   string
	URL   string
}

// OrphanSink takes over keys whose compensating delete failed.
type OrphanSink interface {
	ScheduleBlobCleanup(ctx context.Context, keys []string) error
}

// Uploader fans uploads out to an ObjectStore.
type Uploader struct {
	store   storage.ObjectStore
	orphans OrphanSink
	keyFunc func(ownerID, filename string) string
}

// NewUploader creates an Uploader. orphans may be nil.
func NewUploader(store storage.ObjectStore, orphans OrphanSink) *Uploader {
	return &Uploader{store: store, orphans: orphans, keyFunc: storage.ImageKey}
}

// ValidateImages rejects files that are not images or exceed maxBytes. No network
// call is made.
func ValidateImages(images []Image, maxBytes int64) error {
	verr := &apperr.ValidationError{}
	for i, img := range images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			verr.Add(fmt.Sprintf("images[%d]", i), "%s is not an image", img.Filename)
		}
		if maxBytes > 0 && img.Size > maxBytes {
			verr.Add(fmt.Sprintf("images[%d]", i), "%s exceeds %d bytes", img.Filename, maxBytes)
		}
	}
	return verr.OrNil()
}

// UploadAll uploads every image concurrently. Results are ordered like images. If any
// upload fails the others are cancelled, every blob already stored is deleted and the
// first error is returned. progress may be nil; it is never closed by UploadAll.
func (u *Uploader) UploadAll(ctx context.Context, ownerID string, images []Image, progress chan<- Progress) ([]Result, error) {
	results := make([]Result, len(images))
	stored := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	for i := range images {
		i, img := i, images[i]
		task := make(chan Progress, 8)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			for p := range task {
				if progress == nil {
					continue
				}
				select {
				case progress <- p:
				default:
					// Progress is advisory; a slow reader must not stall the upload.
				}
			}
		}()

		g.Go(func() error {
			defer func() {
				close(task)
				<-forwarded
			}()
			res, err := u.uploadOne(gctx, ownerID, i, img, task)
			if err != nil {
				return err
			}
			results[i] = res
			stored[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var keys []string
		for i, ok := range stored {
			if ok {
				keys = append(keys, results[i].Key)
			}
		}
		u.Discard(ctx, keys)
		return nil, apperr.Transport("upload images", err)
	}
	return results, nil
}

func (u *Uploader) uploadOne(ctx context.Context, ownerID string, index int, img Image, task chan<- Progress) (Result, error) {
	rc, err := img.Open()
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", img.Filename, err)
	}
	defer rc.Close()

	key := u.keyFunc(ownerID, img.Filename)
	pr := &progressReader{r: rc, p: Progress{Index: index, Filename: img.Filename, TotalBytes: img.Size}, out: task}

	url, err := u.store.Put(ctx, key, pr, img.Size, img.ContentType)
	if err != nil {
		// The store may have accepted the object before the error surfaced.
		u.Discard(ctx, []string{key})
		return Result{}, fmt.Errorf("upload %s: %w", img.Filename, err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "index": index}).Debug("Image uploaded")
	return Result{Index: index, Key: key, URL: url}, nil
}

// Discard deletes stored blobs. Deletion ignores cancellation of ctx; keys that still
// cannot be deleted go to the orphan sink.
func (u *Uploader) Discard(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	dctx := context.WithoutCancel(ctx)
	var failed []string
	for _, key := range keys {
		if err := u.store.Delete(dctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			logrus.WithError(err).WithField("key", key).Warn("Failed to delete uploaded image")
			failed = append(failed, key)
		}
	}
	if len(failed) == 0 || u.orphans == nil {
		return
	}
	if err := u.orphans.ScheduleBlobCleanup(dctx, failed); err != nil {
		logrus.WithError(err).WithField("keys", failed).Error("Failed to schedule orphaned image cleanup")
	}
}

// URLs returns the URLs of results in order.
func URLs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL
	}
	return out
}

// Keys returns the storage keys of results in order.
func Keys(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

type progressReader struct {
	r   io.Reader
	p   Progress
	out chan<- Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.p.BytesSent += int64(n)
		select {
		case pr.out <- pr.p:
		default:
		}
	}
	return n, err
}

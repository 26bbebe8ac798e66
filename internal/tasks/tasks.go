package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"greendrake/housemarket/internal/storage"
)

// TaskType defines the type of a background task.
const (
	TypeBlobCleanup    = "blob:cleanup"
	TypeImageNormalize = "image:normalize"
)

// Queue names.
const (
	QueueDefault = "default"
	QueueImages  = "images"
)

// --- Task Client (Enqueuing tasks) ---

// NewClient creates an asynq client sharing the connection settings of rdb.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

// Enqueuer is the part of asynq.Client used by Scheduler.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues image tasks. It satisfies both the uploader's orphan sink and
// the submission service's task scheduler.
type Scheduler struct {
	client Enqueuer
}

// NewScheduler wraps an asynq client.
func NewScheduler(client Enqueuer) *Scheduler {
	return &Scheduler{client: client}
}

// BlobCleanupPayload lists object keys to delete.
type BlobCleanupPayload struct {
	Keys []string `json:"keys"`
}

// ImageNormalizePayload names one stored image to downscale.
type ImageNormalizePayload struct {
	Key string `json:"key"`
}

// ScheduleBlobCleanup enqueues deletion of keys.
func (s *Scheduler) ScheduleBlobCleanup(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(BlobCleanupPayload{Keys: keys})
	if err != nil {
		return fmt.Errorf("failed to marshal blob cleanup payload: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeBlobCleanup, payload), asynq.Queue(QueueDefault), asynq.MaxRetry(10))
	if err != nil {
		return fmt.Errorf("failed to enqueue blob cleanup: %w", err)
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "keys": len(keys)}).Info("Enqueued blob cleanup")
	return nil
}

// ScheduleImageNormalize enqueues one normalization task per key.
func (s *Scheduler) ScheduleImageNormalize(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		payload, err := json.Marshal(ImageNormalizePayload{Key: key})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeImageNormalize, payload), asynq.Queue(QueueImages)); err != nil {
			errs = append(errs, fmt.Errorf("enqueue normalize %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	store        storage.ObjectStore
	maxDimension uint
	maxBytes     int64
}

// NewTaskProcessor creates a TaskProcessor. Images larger than maxDimension on either
// side are downscaled.
func NewTaskProcessor(store storage.ObjectStore, maxDimension int, maxBytes int64) *TaskProcessor {
	return &TaskProcessor{store: store, maxDimension: uint(maxDimension), maxBytes: maxBytes}
}

// NewServer configures an asynq server. The caller runs it.
func NewServer(rdb *redis.Client, concurrency int) *asynq.Server {
	return asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueDefault: 3,
				QueueImages:  5,
			},
			Logger: logrus.StandardLogger(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logrus.WithError(err).WithFields(logrus.Fields{
					"task_type": task.Type(),
					"payload":   string(task.Payload()),
				}).Error("Task failed")
			}),
		},
	)
}

// NewServeMux registers the processor's handlers.
func NewServeMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBlobCleanup, processor.HandleBlobCleanupTask)
	mux.HandleFunc(TypeImageNormalize, processor.HandleImageNormalizeTask)
	return mux
}

// --- Task Handlers ---

// HandleBlobCleanupTask deletes every key in the payload. Missing keys count as deleted.
func (p *TaskProcessor) HandleBlobCleanupTask(ctx context.Context, t *asynq.Task) error {
	var payload BlobCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal blob cleanup payload: %v: %w", err, asynq.SkipRetry)
	}

	var failed int
	for _, key := range payload.Keys {
		if err := p.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			logrus.WithError(err).WithField("key", key).Warn("Failed to delete blob")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d blobs not deleted", failed, len(payload.Keys))
	}
	logrus.WithField("keys", len(payload.Keys)).Info("Blob cleanup finished")
	return nil
}

// HandleImageNormalizeTask downscales an oversized image in place, keeping its key so
// the stored URL stays valid.
func (p *TaskProcessor) HandleImageNormalizeTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageNormalizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	log := logrus.WithField("key", payload.Key)

	data, err := p.store.Get(ctx, payload.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// The listing was edited or the upload discarded before this ran.
			log.Info("Image no longer exists; skipping")
			return nil
		}
		return fmt.Errorf("failed to download image: %w", err)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return fmt.Errorf("image exceeds max size (%d > %d bytes): %w", len(data), p.maxBytes, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}

	bounds := img.Bounds()
	if uint(bounds.Dx()) <= p.maxDimension && uint(bounds.Dy()) <= p.maxDimension {
		log.WithField("format", format).Debug("Image within limits")
		return nil
	}

	resized := resize.Thumbnail(p.maxDimension, p.maxDimension, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := encodeImage(&buf, resized, format); err != nil {
		return fmt.Errorf("failed to re-encode resized image: %w", err)
	}

	// A cleanup may have removed the blob while it was being resized.
	exists, err := p.store.Exists(ctx, payload.Key)
	if err != nil {
		return fmt.Errorf("failed to check image before upload: %w", err)
	}
	if !exists {
		log.Info("Image removed during normalization; skipping upload")
		return nil
	}

	if _, err := p.store.Put(ctx, payload.Key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/"+format); err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}
	log.WithFields(logrus.Fields{
		"from": fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		"to":   fmt.Sprintf("%dx%d", resized.Bounds().Dx(), resized.Bounds().Dy()),
	}).Info("Image normalized")
	return nil
}

// encodeImage writes img in the format it was decoded from so the key's extension and
// content type stay truthful.
func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "gif":
		return gif.Encode(w, img, nil)
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
	}
	return fmt.Errorf("no encoder for %s: %w", format, asynq.SkipRetry)
}

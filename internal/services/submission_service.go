package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/form"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/upload"
)

// ImageUploader is the fan-out/fan-in upload contract.
type ImageUploader interface {
	UploadAll(ctx context.Context, ownerID string, images []upload.Image, progress chan<- upload.Progress) ([]upload.Result, error)
	Discard(ctx context.Context, keys []string)
}

// ImageTaskScheduler queues background work on stored images.
type ImageTaskScheduler interface {
	ScheduleBlobCleanup(ctx context.Context, keys []string) error
	ScheduleImageNormalize(ctx context.Context, keys []string) error
}

// SubmitOptions configures a single submission.
type SubmitOptions struct {
	Observer StateObserver
	Progress chan<- upload.Progress
}

// ISubmissionService creates and edits listings together with their images.
type ISubmissionService interface {
	Create(ctx context.Context, ownerID primitive.ObjectID, state form.State, images []upload.Image, opts SubmitOptions) (*models.Listing, error)
	Update(ctx context.Context, ownerID, listingID primitive.ObjectID, state form.State, images []upload.Image, opts SubmitOptions) (*models.Listing, error)
	LoadForEdit(ctx context.Context, ownerID, listingID primitive.ObjectID) (*models.Listing, form.State, error)
}

type submissionService struct {
	listings      IListingService
	uploader      ImageUploader
	tasks         ImageTaskScheduler
	maxImageBytes int64
}

// NewSubmissionService creates a SubmissionService. tasks may be nil.
func NewSubmissionService(listings IListingService, uploader ImageUploader, tasks ImageTaskScheduler, maxImageBytes int64) ISubmissionService {
	return &submissionService{listings: listings, uploader: uploader, tasks: tasks, maxImageBytes: maxImageBytes}
}

// isRejection reports whether err is a refusal of the request itself rather than a
// failure to reach the backend.
func isRejection(err error) bool {
	return apperr.IsValidation(err) || errors.Is(err, apperr.ErrForbidden) || errors.Is(err, apperr.ErrNotFound)
}

func (s *submissionService) validate(state form.State, images []upload.Image, creating bool) error {
	if err := form.Validate(state); err != nil {
		return err
	}
	if err := form.ValidateImageCount(len(images), creating); err != nil {
		return err
	}
	return upload.ValidateImages(images, s.maxImageBytes)
}

// Create validates, uploads every image and writes the listing once. Nothing is
// written if any upload fails, and uploaded images are removed if the write fails.
func (s *submissionService) Create(ctx context.Context, ownerID primitive.ObjectID, state form.State, images []upload.Image, opts SubmitOptions) (*models.Listing, error) {
	sub := NewSubmission(opts.Observer)
	sub.must(StateValidating, 0)

	if err := s.validate(state, images, true); err != nil {
		sub.must(StateRejected, 0)
		return nil, err
	}

	sub.must(StateUploading, len(images))
	results, err := s.uploader.UploadAll(ctx, ownerID.Hex(), images, opts.Progress)
	if err != nil {
		sub.must(StateFailed, 0)
		logrus.WithError(err).WithField("user_id", ownerID.Hex()).Warn("Listing image upload failed")
		return nil, err
	}

	sub.must(StateWriting, 0)
	listing := &models.Listing{UserRef: ownerID}
	state.ApplyTo(listing)
	listing.ImageURLs = upload.URLs(results)
	listing.ImageKeys = upload.Keys(results)

	if err := s.listings.Insert(ctx, listing); err != nil {
		s.uploader.Discard(ctx, listing.ImageKeys)
		sub.must(StateFailed, 0)
		return nil, err
	}

	sub.must(StateDone, 0)
	s.normalize(ctx, listing.ImageKeys)
	logrus.WithFields(logrus.Fields{"listing_id": listing.ID.Hex(), "images": len(results)}).Info("Listing created")
	return listing, nil
}

// LoadForEdit returns the listing and its form state if ownerID owns it.
func (s *submissionService) LoadForEdit(ctx context.Context, ownerID, listingID primitive.ObjectID) (*models.Listing, form.State, error) {
	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, form.State{}, err
	}
	if listing.UserRef != ownerID {
		return nil, form.State{}, fmt.Errorf("listing %s: %w", listingID.Hex(), apperr.ErrForbidden)
	}
	return listing, form.FromListing(listing), nil
}

// Update edits a listing owned by ownerID. Sending no images keeps the current ones;
// sending any replaces all of them.
func (s *submissionService) Update(ctx context.Context, ownerID, listingID primitive.ObjectID, state form.State, images []upload.Image, opts SubmitOptions) (*models.Listing, error) {
	sub := NewSubmission(opts.Observer)
	sub.must(StateValidating, 0)

	if err := s.validate(state, images, false); err != nil {
		sub.must(StateRejected, 0)
		return nil, err
	}

	listing, _, err := s.LoadForEdit(ctx, ownerID, listingID)
	if err != nil {
		if isRejection(err) {
			sub.must(StateRejected, 0)
		} else {
			logrus.WithError(err).WithField("listing_id", listingID.Hex()).Warn("Failed to load listing for edit")
			sub.must(StateFailed, 0)
		}
		return nil, err
	}

	var newKeys, oldKeys []string
	if len(images) > 0 {
		sub.must(StateUploading, len(images))
		results, err := s.uploader.UploadAll(ctx, ownerID.Hex(), images, opts.Progress)
		if err != nil {
			sub.must(StateFailed, 0)
			return nil, err
		}
		oldKeys = listing.ImageKeys
		newKeys = upload.Keys(results)
		listing.ImageURLs = upload.URLs(results)
		listing.ImageKeys = newKeys
	}

	sub.must(StateWriting, 0)
	state.ApplyTo(listing)

	if err := s.listings.Update(ctx, listing); err != nil {
		s.uploader.Discard(ctx, newKeys)
		sub.must(StateFailed, 0)
		return nil, err
	}

	sub.must(StateDone, 0)
	if len(oldKeys) > 0 && s.tasks != nil {
		if err := s.tasks.ScheduleBlobCleanup(ctx, oldKeys); err != nil {
			logrus.WithError(err).WithField("listing_id", listing.ID.Hex()).Warn("Failed to schedule cleanup of replaced images")
		}
	}
	s.normalize(ctx, newKeys)
	logrus.WithField("listing_id", listing.ID.Hex()).Info("Listing updated")
	return listing, nil
}

func (s *submissionService) normalize(ctx context.Context, keys []string) {
	if len(keys) == 0 || s.tasks == nil {
		return
	}
	if err := s.tasks.ScheduleImageNormalize(ctx, keys); err != nil {
		logrus.WithError(err).Warn("Failed to schedule image normalization")
	}
}

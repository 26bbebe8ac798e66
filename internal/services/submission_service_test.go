package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/form"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/storage"
	"greendrake/housemarket/internal/upload"
)

// failingStore rejects any key containing failOn.
type failingStore struct {
	*storage.MemoryStorage
	failOn string
	puts   atomic.Int32
}

func (s *failingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	s.puts.Add(1)
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return "", errors.New("storage unavailable")
	}
	return s.MemoryStorage.Put(ctx, key, r, size, contentType)
}

func newFailingStore(failOn string) *failingStore {
	return &failingStore{MemoryStorage: storage.NewMemoryStorage("https://img.test"), failOn: failOn}
}

func validForm() form.State {
	s := form.Default()
	s.Name = "Sunny flat by the park"
	s.Address = "12 Park Lane"
	s.RegularPrice = 1200
	return s
}

func testImage(name string) upload.Image {
	data := []byte("jpeg-bytes-" + name)
	return upload.Image{
		Filename:    name,
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func recordStates(states *[]SubmissionState) StateObserver {
	return func(t Transition) { *states = append(*states, t.To) }
}

func TestSubmission_Transitions(t *testing.T) {
	var seen []SubmissionState
	sub := NewSubmission(recordStates(&seen))

	require.NoError(t, sub.To(StateValidating, 0))
	assert.Error(t, sub.To(StateDone, 0))
	assert.Error(t, sub.Reset())
	require.NoError(t, sub.To(StateRejected, 0))
	require.NoError(t, sub.Reset())

	assert.Equal(t, StateIdle, sub.State())
	assert.Equal(t, []SubmissionState{StateValidating, StateRejected, StateIdle}, seen)
	assert.Equal(t, "uploading", StateUploading.String())
}

func TestCreate_InvalidFormMakesNoNetworkCalls(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)

	s := validForm()
	s.Name = "short"
	var seen []SubmissionState

	_, err := svc.Create(context.Background(), primitive.NewObjectID(), s, []upload.Image{testImage("a.jpg")}, SubmitOptions{Observer: recordStates(&seen)})

	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, store.puts.Load())
	listings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Equal(t, []SubmissionState{StateValidating, StateRejected}, seen)
}

func TestCreate_DiscountNotBelowRegularMakesNoNetworkCalls(t *testing.T) {
	for _, offer := range []bool{true, false} {
		store := newFailingStore("")
		listings := new(MockListingService)
		svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)

		s := validForm()
		s.Offer = offer
		s.DiscountedPrice = s.RegularPrice * 2

		_, err := svc.Create(context.Background(), primitive.NewObjectID(), s, []upload.Image{testImage("a.jpg")}, SubmitOptions{})

		var verr *apperr.ValidationError
		require.ErrorAs(t, err, &verr, "offer=%v", offer)
		assert.Equal(t, form.FieldDiscountedPrice, verr.Fields[0].Field)
		assert.Zero(t, store.puts.Load(), "offer=%v", offer)
		listings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	}
}

func TestCreate_SevenImagesMakesNoNetworkCalls(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)

	images := make([]upload.Image, 7)
	for i := range images {
		images[i] = testImage(string(rune('a'+i)) + ".jpg")
	}
	var seen []SubmissionState

	_, err := svc.Create(context.Background(), primitive.NewObjectID(), validForm(), images, SubmitOptions{Observer: recordStates(&seen)})

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "images", verr.Fields[0].Field)
	assert.Zero(t, store.puts.Load())
	listings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Equal(t, []SubmissionState{StateValidating, StateRejected}, seen)
}

func TestCreate_RequiresAnImage(t *testing.T) {
	listings := new(MockListingService)
	svc := NewSubmissionService(listings, upload.NewUploader(newFailingStore(""), nil), nil, 1<<20)

	_, err := svc.Create(context.Background(), primitive.NewObjectID(), validForm(), nil, SubmitOptions{})

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "images", verr.Fields[0].Field)
}

func TestCreate_WritesOnceWithOrderedImages(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	tasks := new(MockTaskScheduler)
	owner := primitive.NewObjectID()

	listings.On("Insert", mock.Anything, mock.MatchedBy(func(l *models.Listing) bool {
		return l.UserRef == owner && len(l.ImageURLs) == 3 &&
			strings.Contains(l.ImageURLs[0], "one") &&
			strings.Contains(l.ImageURLs[1], "two") &&
			strings.Contains(l.ImageURLs[2], "three") &&
			l.Location == "12 Park Lane" && l.DiscountedPrice == nil
	})).Return(nil).Once()
	tasks.On("ScheduleImageNormalize", mock.Anything, mock.Anything).Return(nil).Once()

	svc := NewSubmissionService(listings, upload.NewUploader(store, tasks), tasks, 1<<20)
	var seen []SubmissionState

	listing, err := svc.Create(context.Background(), owner, validForm(),
		[]upload.Image{testImage("one.jpg"), testImage("two.jpg"), testImage("three.jpg")},
		SubmitOptions{Observer: recordStates(&seen)})

	require.NoError(t, err)
	assert.Len(t, listing.ImageKeys, 3)
	assert.Len(t, store.Keys(), 3)
	assert.Equal(t, []SubmissionState{StateValidating, StateUploading, StateWriting, StateDone}, seen)
	listings.AssertExpectations(t)
	tasks.AssertExpectations(t)
}

func TestCreate_UploadFailureWritesNothing(t *testing.T) {
	store := newFailingStore("two")
	listings := new(MockListingService)
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)
	var seen []SubmissionState

	_, err := svc.Create(context.Background(), primitive.NewObjectID(), validForm(),
		[]upload.Image{testImage("one.jpg"), testImage("two.jpg"), testImage("three.jpg")},
		SubmitOptions{Observer: recordStates(&seen)})

	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
	assert.Empty(t, store.Keys())
	listings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Equal(t, StateFailed, seen[len(seen)-1])
}

func TestCreate_WriteFailureDiscardsUploads(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	listings.On("Insert", mock.Anything, mock.Anything).Return(apperr.Transport("insert listing", errors.New("timeout")))
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)

	_, err := svc.Create(context.Background(), primitive.NewObjectID(), validForm(),
		[]upload.Image{testImage("one.jpg"), testImage("two.jpg")}, SubmitOptions{})

	require.Error(t, err)
	assert.Empty(t, store.Keys())
}

func TestUpdate_NonOwnerIsForbidden(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	id := primitive.NewObjectID()
	listings.On("FindByID", mock.Anything, id).Return(&models.Listing{Base: models.Base{ID: id}, UserRef: primitive.NewObjectID()}, nil)
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)

	_, err := svc.Update(context.Background(), primitive.NewObjectID(), id, validForm(), []upload.Image{testImage("a.jpg")}, SubmitOptions{})

	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Zero(t, store.puts.Load())
	listings.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUpdate_StoreOutageFailsInsteadOfRejecting(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	id := primitive.NewObjectID()
	listings.On("FindByID", mock.Anything, id).Return(nil, apperr.Transport("find listing", errors.New("connection reset")))
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), nil, 1<<20)
	var seen []SubmissionState

	_, err := svc.Update(context.Background(), primitive.NewObjectID(), id, validForm(), []upload.Image{testImage("a.jpg")}, SubmitOptions{Observer: recordStates(&seen)})

	assert.True(t, apperr.IsTransport(err))
	assert.Zero(t, store.puts.Load())
	assert.Equal(t, []SubmissionState{StateValidating, StateFailed}, seen)
}

func TestUpdate_MissingListingIsRejected(t *testing.T) {
	listings := new(MockListingService)
	id := primitive.NewObjectID()
	listings.On("FindByID", mock.Anything, id).Return(nil, apperr.ErrNotFound)
	svc := NewSubmissionService(listings, upload.NewUploader(newFailingStore(""), nil), nil, 1<<20)
	var seen []SubmissionState

	_, err := svc.Update(context.Background(), primitive.NewObjectID(), id, validForm(), nil, SubmitOptions{Observer: recordStates(&seen)})

	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []SubmissionState{StateValidating, StateRejected}, seen)
}

func TestUpdate_KeepsImagesWhenNoneSent(t *testing.T) {
	listings := new(MockListingService)
	owner, id := primitive.NewObjectID(), primitive.NewObjectID()
	existing := &models.Listing{Base: models.Base{ID: id}, UserRef: owner, ImageURLs: []string{"https://img.test/old"}, ImageKeys: []string{"old"}}
	listings.On("FindByID", mock.Anything, id).Return(existing, nil)
	listings.On("Update", mock.Anything, mock.MatchedBy(func(l *models.Listing) bool {
		return l.ImageKeys[0] == "old" && l.Name == "Sunny flat by the park"
	})).Return(nil)
	svc := NewSubmissionService(listings, upload.NewUploader(newFailingStore(""), nil), nil, 1<<20)

	listing, err := svc.Update(context.Background(), owner, id, validForm(), nil, SubmitOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/old"}, listing.ImageURLs)
	listings.AssertExpectations(t)
}

func TestUpdate_ReplacedImagesAreCleanedUp(t *testing.T) {
	listings := new(MockListingService)
	tasks := new(MockTaskScheduler)
	owner, id := primitive.NewObjectID(), primitive.NewObjectID()
	existing := &models.Listing{Base: models.Base{ID: id}, UserRef: owner, ImageKeys: []string{"old-1", "old-2"}}
	listings.On("FindByID", mock.Anything, id).Return(existing, nil)
	listings.On("Update", mock.Anything, mock.Anything).Return(nil)
	tasks.On("ScheduleBlobCleanup", mock.Anything, []string{"old-1", "old-2"}).Return(nil).Once()
	tasks.On("ScheduleImageNormalize", mock.Anything, mock.Anything).Return(nil).Once()
	svc := NewSubmissionService(listings, upload.NewUploader(newFailingStore(""), nil), tasks, 1<<20)

	listing, err := svc.Update(context.Background(), owner, id, validForm(), []upload.Image{testImage("new.jpg")}, SubmitOptions{})

	require.NoError(t, err)
	assert.Len(t, listing.ImageKeys, 1)
	assert.Contains(t, listing.ImageKeys[0], "new.jpg")
	tasks.AssertExpectations(t)
}

func TestUpdate_WriteFailureKeepsOldImages(t *testing.T) {
	store := newFailingStore("")
	listings := new(MockListingService)
	tasks := new(MockTaskScheduler)
	owner, id := primitive.NewObjectID(), primitive.NewObjectID()
	listings.On("FindByID", mock.Anything, id).Return(&models.Listing{Base: models.Base{ID: id}, UserRef: owner, ImageKeys: []string{"old"}}, nil)
	listings.On("Update", mock.Anything, mock.Anything).Return(apperr.Transport("update listing", errors.New("down")))
	svc := NewSubmissionService(listings, upload.NewUploader(store, nil), tasks, 1<<20)

	_, err := svc.Update(context.Background(), owner, id, validForm(), []upload.Image{testImage("new.jpg")}, SubmitOptions{})

	require.Error(t, err)
	assert.Empty(t, store.Keys())
	tasks.AssertNotCalled(t, "ScheduleBlobCleanup", mock.Anything, mock.Anything)
}

func TestLoadForEdit_ReturnsFormState(t *testing.T) {
	listings := new(MockListingService)
	owner, id := primitive.NewObjectID(), primitive.NewObjectID()
	price := 900.0
	listings.On("FindByID", mock.Anything, id).Return(&models.Listing{
		Base: models.Base{ID: id}, UserRef: owner, Name: "Harbour view loft", Location: "1 Quay St",
		Offer: true, RegularPrice: 1000, DiscountedPrice: &price,
	}, nil)
	svc := NewSubmissionService(listings, nil, nil, 0)

	_, state, err := svc.LoadForEdit(context.Background(), owner, id)

	require.NoError(t, err)
	assert.Equal(t, "1 Quay St", state.Address)
	assert.Equal(t, 900.0, state.DiscountedPrice)
}

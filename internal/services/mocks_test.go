package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/models"
)

// MockListingService is a mock of IListingService.
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) FetchPage(ctx context.Context, q ListingQuery) (*ListingPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ListingPage), args.Error(1)
}

func (m *MockListingService) FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Insert(ctx context.Context, listing *models.Listing) error {
	args := m.Called(ctx, listing)
	return args.Error(0)
}

func (m *MockListingService) Update(ctx context.Context, listing *models.Listing) error {
	args := m.Called(ctx, listing)
	return args.Error(0)
}

func (m *MockListingService) Recommended(ctx context.Context, n int) ([]models.Listing, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

// MockTaskScheduler is a mock of ImageTaskScheduler.
type MockTaskScheduler struct {
	mock.Mock
}

func (m *MockTaskScheduler) ScheduleBlobCleanup(ctx context.Context, keys []string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *MockTaskScheduler) ScheduleImageNormalize(ctx context.Context, keys []string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

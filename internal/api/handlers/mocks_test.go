package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/form"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
	"greendrake/housemarket/internal/upload"
)

// --- Mocks ---

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) FetchPage(ctx context.Context, q services.ListingQuery) (*services.ListingPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ListingPage), args.Error(1)
}

func (m *MockListingService) FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Insert(ctx context.Context, listing *models.Listing) error {
	return m.Called(ctx, listing).Error(0)
}

func (m *MockListingService) Update(ctx context.Context, listing *models.Listing) error {
	return m.Called(ctx, listing).Error(0)
}

func (m *MockListingService) Recommended(ctx context.Context, n int) ([]models.Listing, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

// MockSubmissionService
type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Create(ctx context.Context, ownerID primitive.ObjectID, state form.State, images []upload.Image, opts services.SubmitOptions) (*models.Listing, error) {
	args := m.Called(ctx, ownerID, state, images)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockSubmissionService) Update(ctx context.Context, ownerID, listingID primitive.ObjectID, state form.State, images []upload.Image, opts services.SubmitOptions) (*models.Listing, error) {
	args := m.Called(ctx, ownerID, listingID, state, images)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockSubmissionService) LoadForEdit(ctx context.Context, ownerID, listingID primitive.ObjectID) (*models.Listing, form.State, error) {
	args := m.Called(ctx, ownerID, listingID)
	if args.Get(0) == nil {
		return nil, form.State{}, args.Error(2)
	}
	return args.Get(0).(*models.Listing), args.Get(1).(form.State), args.Error(2)
}

// MockAuthService
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) SignUp(ctx context.Context, name, email, password string) (*services.Session, error) {
	args := m.Called(ctx, name, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockAuthService) SignIn(ctx context.Context, email, password string) (*services.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockAuthService) SignOut(ctx context.Context, userID string) {
	m.Called(ctx, userID)
}

func (m *MockAuthService) FindUserByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockAuthService) Subscribe(ctx context.Context) <-chan services.IdentityEvent {
	args := m.Called(ctx)
	return args.Get(0).(<-chan services.IdentityEvent)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/auth"
	"greendrake/housemarket/internal/db"
	"greendrake/housemarket/internal/models"
)

// Session is the result of a successful sign-in.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// IAuthService covers sign-up, sign-in and the identity-change stream.
type IAuthService interface {
	SignUp(ctx context.Context, name, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, userID string)
	FindUserByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	Subscribe(ctx context.Context) <-chan IdentityEvent
}

type authService struct {
	db        *mongo.Database
	jwtSecret string
	jwtTTL    time.Duration
	bus       *identityBus
}

// NewAuthService creates a new AuthService. rdb may be nil, in which case identity
// events stay in-process.
func NewAuthService(database *mongo.Database, jwtSecret string, jwtTTL time.Duration, rdb *redis.Client) IAuthService {
	return &authService{db: database, jwtSecret: jwtSecret, jwtTTL: jwtTTL, bus: newIdentityBus(rdb)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a user and signs them in.
func (s *authService) SignUp(ctx context.Context, name, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	verr := &apperr.ValidationError{}
	if strings.TrimSpace(name) == "" {
		verr.Add("name", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		verr.Add("email", "is not a valid address")
	}
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		verr.Add("password", "must be at least %d characters", auth.MinPasswordLength)
	} else if err != nil {
		return nil, err
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	user.GenID()

	if _, err := s.db.Collection(db.UsersCollection).InsertOne(ctx, user); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, apperr.Invalid("email", "already in use")
		}
		return nil, apperr.Transport("insert user", err)
	}

	logrus.WithField("user_id", user.ID.Hex()).Info("User signed up")
	return s.newSession(ctx, user)
}

// SignIn checks credentials and issues an identity token.
func (s *authService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("bad user credentials: %w", apperr.ErrUnauthenticated)
		}
		return nil, apperr.Transport("find user", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, fmt.Errorf("bad user credentials: %w", apperr.ErrUnauthenticated)
	}
	return s.newSession(ctx, &user)
}

func (s *authService) newSession(ctx context.Context, user *models.User) (*Session, error) {
	token, expiresAt, err := auth.GenerateJWT(user.ID.Hex(), user.Email, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return nil, err
	}
	s.bus.publish(ctx, IdentityEvent{UserID: user.ID.Hex(), SignedIn: true})
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// SignOut announces that userID left. Tokens are stateless and simply expire.
func (s *authService) SignOut(ctx context.Context, userID string) {
	s.bus.publish(ctx, IdentityEvent{UserID: userID, SignedIn: false})
}

// FindUserByID returns the user or apperr.ErrNotFound.
func (s *authService) FindUserByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", userID.Hex(), apperr.ErrNotFound)
		}
		return nil, apperr.Transport("find user", err)
	}
	return &user, nil
}

// Subscribe streams identity events until ctx is done.
func (s *authService) Subscribe(ctx context.Context) <-chan IdentityEvent {
	return s.bus.subscribe(ctx)
}

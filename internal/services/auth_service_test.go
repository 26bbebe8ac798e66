package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/auth"
	"greendrake/housemarket/internal/db"
	"greendrake/housemarket/internal/utils"
)

func TestAuthService_SignUp_Validation(t *testing.T) {
	svc := NewAuthService(nil, "secret", time.Hour, nil)

	_, err := svc.SignUp(context.Background(), " ", "not-an-email", "123")

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.Equal(t, map[string]bool{"name": true, "email": true, "password": true}, fields)
}

func TestAuthService_SubscribeInMemory(t *testing.T) {
	svc := NewAuthService(nil, "secret", time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	events := svc.Subscribe(ctx)

	svc.SignOut(context.Background(), "user-1")

	select {
	case ev := <-events:
		assert.Equal(t, IdentityEvent{UserID: "user-1", SignedIn: false}, ev)
	case <-time.After(time.Second):
		t.Fatal("identity event not delivered")
	}

	cancel()
	for range events {
	}
}

func TestAuthService_SignUpAndSignIn(t *testing.T) {
	database := utils.SetupTestDB(t, "housemarket_test", db.UsersCollection)
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	svc := NewAuthService(database, "secret", time.Hour, nil)
	ctx := context.Background()

	events := svc.Subscribe(ctx)

	created, err := svc.SignUp(ctx, "Ann", "  Ann@Example.com ", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", created.User.Email)
	assert.NotEqual(t, "secret123", created.User.PasswordHash)

	claims, err := auth.ValidateJWT(created.Token, "secret")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID.Hex(), claims.UserID)
	assert.True(t, (<-events).SignedIn)

	_, err = svc.SignUp(ctx, "Ann again", "ann@example.com", "secret123")
	assert.True(t, apperr.IsValidation(err))

	session, err := svc.SignIn(ctx, "ANN@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, session.User.ID)

	_, err = svc.SignIn(ctx, "ann@example.com", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = svc.SignIn(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	user, err := svc.FindUserByID(ctx, created.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", user.Name)
}

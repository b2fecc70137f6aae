package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/siteform/fieldsync/internal/domain/auth"
	"github.com/siteform/fieldsync/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSession(access, refresh string) *auth.Session {
	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User: auth.UserSummary{
			ID:          "u1",
			Email:       "surveyor@example.com",
			DisplayName: "Site Surveyor",
			Role:        "client",
		},
	}
}

func TestManager_LoginStoresSession(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	sess := newSession("access-1", "refresh-1")
	apiMock.On("Login", ctx, "surveyor@example.com", "secret").Return(sess, nil)
	store.On("Save", ctx, sess).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	got, err := mgr.Login(ctx, "surveyor@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, auth.StateAuthenticated, mgr.State())

	token, ok := mgr.Token()
	require.True(t, ok)
	require.Equal(t, "access-1", token)

	user, ok := mgr.CurrentUser()
	require.True(t, ok)
	require.Equal(t, "surveyor@example.com", user.Email)

	store.AssertExpectations(t)
}

func TestManager_LoginInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	apiMock.On("Login", ctx, "surveyor@example.com", "wrong").Return(nil, auth.ErrInvalidCredentials)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	_, err := mgr.Login(ctx, "surveyor@example.com", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	require.Equal(t, auth.StateAnonymous, mgr.State())
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestManager_LoginStorageFailure(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	sess := newSession("access-1", "refresh-1")
	apiMock.On("Login", ctx, "surveyor@example.com", "secret").Return(sess, nil)
	store.On("Save", ctx, sess).Return(errors.New("disk full"))

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	_, err := mgr.Login(ctx, "surveyor@example.com", "secret")
	require.Error(t, err)
	require.Equal(t, auth.StateAnonymous, mgr.State())
}

func TestManager_RestoreHydratesSession(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))
	require.Equal(t, auth.StateAuthenticated, mgr.State())
}

func TestManager_RestoreNoSession(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(nil, nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))
	require.Equal(t, auth.StateAnonymous, mgr.State())

	_, ok := mgr.Token()
	require.False(t, ok)
}

func TestManager_RefreshSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)

	rotated := newSession("access-2", "refresh-2")
	release := make(chan struct{})
	apiMock.On("Refresh", mock.Anything, "refresh-1").
		Run(func(mock.Arguments) { <-release }).
		Return(rotated, nil)
	store.On("Save", mock.Anything, rotated).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))

	const waiters = 8
	results := make(chan bool, waiters)
	var wg sync.WaitGroup

	// First waiter enters the refresh and blocks inside the API call.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := mgr.Refresh(ctx)
		require.NoError(t, err)
		results <- ok
	}()
	require.Eventually(t, func() bool {
		return mgr.State() == auth.StateRefreshing
	}, time.Second, time.Millisecond)

	// The rest arrive while the refresh is in flight.
	for i := 1; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := mgr.Refresh(ctx)
			require.NoError(t, err)
			results <- ok
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		require.True(t, <-results, "every waiter shares the successful outcome")
	}

	apiMock.AssertNumberOfCalls(t, "Refresh", 1)
	store.AssertNumberOfCalls(t, "Save", 1)
	require.Equal(t, auth.StateAuthenticated, mgr.State())

	token, ok := mgr.Token()
	require.True(t, ok)
	require.Equal(t, "access-2", token, "the rotated pair is in place")
}

func TestManager_RefreshFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)
	apiMock.On("Refresh", mock.Anything, "refresh-1").Return(nil, auth.ErrInvalidCredentials)
	store.On("Clear", mock.Anything).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))

	var ended atomic.Int32
	mgr.OnSessionEnded(func() { ended.Add(1) })

	ok, err := mgr.Refresh(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, auth.StateAnonymous, mgr.State())
	require.Equal(t, int32(1), ended.Load())
	store.AssertCalled(t, "Clear", mock.Anything)

	_, hasToken := mgr.Token()
	require.False(t, hasToken)
}

func TestManager_RefreshWithoutSession(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)

	ok, err := mgr.Refresh(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	apiMock.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestManager_RefreshKeepsUserWhenResponseOmitsIt(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)
	apiMock.On("Refresh", mock.Anything, "refresh-1").Return(&auth.Session{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	}, nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))

	ok, err := mgr.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	user, hasUser := mgr.CurrentUser()
	require.True(t, hasUser)
	require.Equal(t, "surveyor@example.com", user.Email)
}

func TestManager_LogoutClearsLocallyDespiteRemoteFailure(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)
	apiMock.On("Logout", ctx, "access-1").Return(errors.New("network down"))
	store.On("Clear", ctx).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))

	var ended atomic.Int32
	mgr.OnSessionEnded(func() { ended.Add(1) })

	require.NoError(t, mgr.Logout(ctx))
	require.Equal(t, auth.StateAnonymous, mgr.State())
	require.Equal(t, int32(0), ended.Load(), "explicit logout is not a session-ended signal")
	store.AssertExpectations(t)
}

func TestManager_UpdateUser(t *testing.T) {
	ctx := context.Background()
	store := &mocks.CredentialRepository{}
	apiMock := &mocks.AuthAPI{}

	store.On("Load", ctx).Return(newSession("access-1", "refresh-1"), nil)
	store.On("Save", ctx, mock.Anything).Return(nil)

	mgr := auth.NewManager(store, apiMock, auth.Config{}, nil)
	require.NoError(t, mgr.Restore(ctx))

	updated := auth.UserSummary{ID: "u1", Email: "surveyor@example.com", DisplayName: "Lead Surveyor", Role: "admin"}
	require.NoError(t, mgr.UpdateUser(ctx, updated))

	user, ok := mgr.CurrentUser()
	require.True(t, ok)
	require.Equal(t, "Lead Surveyor", user.DisplayName)
	require.Equal(t, "admin", user.Role)
}

func TestManager_UpdateUserWithoutSession(t *testing.T) {
	mgr := auth.NewManager(&mocks.CredentialRepository{}, &mocks.AuthAPI{}, auth.Config{}, nil)
	err := mgr.UpdateUser(context.Background(), auth.UserSummary{ID: "u1"})
	require.ErrorIs(t, err, auth.ErrNoSession)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestManager_AccessTokenStale(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name  string
		token string
		stale bool
	}{
		{"expires well in the future", signedToken(t, now.Add(time.Hour)), false},
		{"expires within leeway", signedToken(t, now.Add(10*time.Second)), true},
		{"already expired", signedToken(t, now.Add(-time.Minute)), true},
		{"opaque token", "not-a-jwt", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &mocks.CredentialRepository{}
			store.On("Load", ctx).Return(newSession(tc.token, "refresh-1"), nil)

			mgr := auth.NewManager(store, &mocks.AuthAPI{}, auth.Config{ExpiryLeeway: 30 * time.Second}, nil)
			require.NoError(t, mgr.Restore(ctx))
			require.Equal(t, tc.stale, mgr.AccessTokenStale(now))
		})
	}
}

func TestManager_AccessTokenStaleWithoutSession(t *testing.T) {
	mgr := auth.NewManager(&mocks.CredentialRepository{}, &mocks.AuthAPI{}, auth.Config{}, nil)
	require.False(t, mgr.AccessTokenStale(time.Now()))
}

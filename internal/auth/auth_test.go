package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/dataservice"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newAuth(t *testing.T) (*Service, *session.FileSource) {
	t.Helper()
	local, err := engine.Open(engine.DefaultSchema(), nil)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	data := dataservice.New(local, nil, dataservice.WithLogger(log))
	issuer := session.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), 7*24*time.Hour)
	store := session.NewFileSource(filepath.Join(t.TempDir(), "session.json"), "passphrase")
	return New(data, issuer, store, log), store
}

func TestRegisterAndVerify(t *testing.T) {
	a, store := newAuth(t)
	ctx := context.Background()

	u, sess, err := a.Register(ctx, dataservice.NewUser{Email: "ada@example.com", DisplayName: "Ada", Role: schema.RoleAnalyst})
	require.NoError(t, err)
	assert.Equal(t, schema.RoleOwner, u.Role, "registrants own their workspace")
	assert.Equal(t, u.ID, sess.UserID)
	require.Len(t, u.Sessions, 1)
	assert.Equal(t, sess.Token, u.Sessions[0].Token)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sess.Token, saved.Token)

	got, gotSess, err := a.Verify(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, sess.UserID, gotSess.UserID)
}

func TestLogin(t *testing.T) {
	a, _ := newAuth(t)
	ctx := context.Background()

	_, _, err := a.Login(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUnknownUser)

	u, first, err := a.Register(ctx, dataservice.NewUser{Email: "ada@example.com"})
	require.NoError(t, err)

	again, second, err := a.Login(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.True(t, again.IsLoggedIn)
	require.Len(t, again.Sessions, 1, "a new login replaces earlier sessions")
	assert.Equal(t, second.Token, again.Sessions[0].Token)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestVerify_NoSession(t *testing.T) {
	a, _ := newAuth(t)
	u, sess, err := a.Verify(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.False(t, sess.Active())
}

func TestVerify_RejectsForgedToken(t *testing.T) {
	a, store := newAuth(t)
	ctx := context.Background()
	_, sess, err := a.Register(ctx, dataservice.NewUser{Email: "ada@example.com"})
	require.NoError(t, err)

	sess.Token += "x"
	require.NoError(t, store.Save(sess))

	u, _, err := a.Verify(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	left, err := store.Load()
	require.NoError(t, err)
	assert.False(t, left.Active(), "rejected sessions are cleared")
}

func TestLogout(t *testing.T) {
	a, store := newAuth(t)
	ctx := context.Background()
	_, sess, err := a.Register(ctx, dataservice.NewUser{Email: "ada@example.com"})
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx, sess))

	left, err := store.Load()
	require.NoError(t, err)
	assert.False(t, left.Active())

	// The old token no longer matches a session recorded on the user.
	require.NoError(t, store.Save(sess))
	u, _, err := a.Verify(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	users, err := a.data.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.False(t, users[0].IsLoggedIn)
	assert.Empty(t, users[0].Sessions)
}

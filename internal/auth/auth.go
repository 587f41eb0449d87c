// Package auth registers and signs in users of the local workspace and keeps
// their session between runs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/celerix-dev/socialboost-store/internal/dataservice"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"go.uber.org/zap"
)

// ErrUnknownUser is returned by Login when no local user has the email.
var ErrUnknownUser = errors.New("no user with that email")

// Store persists the current session. *session.FileSource implements it.
type Store interface {
	Load() (session.Context, error)
	Save(session.Context) error
	Clear() error
}

type Service struct {
	data     *dataservice.Service
	issuer   *session.Issuer
	store    Store
	log      *zap.Logger
	deviceID string
}

func New(data *dataservice.Service, issuer *session.Issuer, store Store, log *zap.Logger) *Service {
	device, err := os.Hostname()
	if err != nil {
		device = "unknown"
	}
	return &Service{
		data:     data,
		issuer:   issuer,
		store:    store,
		log:      logger.OrNop(log).Named("auth"),
		deviceID: device,
	}
}

// Register creates a workspace owner and signs them in.
func (s *Service) Register(ctx context.Context, in dataservice.NewUser) (schema.User, session.Context, error) {
	in.Role = schema.RoleOwner
	u, err := s.data.CreateUser(ctx, in)
	if err != nil {
		return schema.User{}, session.Context{}, err
	}
	s.log.Info("Registered user", zap.String("user", u.ID))
	return s.signIn(ctx, u)
}

// Login signs in the local user with email. Credentials are checked by the
// identity provider upstream, not here.
func (s *Service) Login(ctx context.Context, email string) (schema.User, session.Context, error) {
	users, err := s.data.GetAllUsers(ctx)
	if err != nil {
		return schema.User{}, session.Context{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return s.signIn(ctx, u)
		}
	}
	return schema.User{}, session.Context{}, fmt.Errorf("%w: %s", ErrUnknownUser, email)
}

// signIn mints a session, records it on the user and stores it locally.
func (s *Service) signIn(ctx context.Context, u schema.User) (schema.User, session.Context, error) {
	sess, err := s.issuer.Issue(u.ID)
	if err != nil {
		return schema.User{}, session.Context{}, err
	}

	u.IsLoggedIn = true
	u.Sessions = []schema.Session{{
		Token:     sess.Token,
		CreatedAt: sanitize.FormatTime(sess.ExpiresAt.Add(-s.issuer.TTL())),
		ExpiresAt: sanitize.FormatTime(sess.ExpiresAt),
		DeviceID:  s.deviceID,
	}}
	u, err = s.data.UpdateUser(ctx, sess, u)
	if err != nil {
		return schema.User{}, session.Context{}, err
	}
	if err := s.store.Save(sess); err != nil {
		return schema.User{}, session.Context{}, err
	}
	return u, sess, nil
}

// Verify returns the signed-in user and their session, or nil when there is
// no valid session. Expired or revoked sessions are cleared.
func (s *Service) Verify(ctx context.Context) (*schema.User, session.Context, error) {
	sess, err := s.store.Load()
	if err != nil {
		return nil, session.Context{}, err
	}
	if !sess.Active() {
		return nil, session.Context{}, nil
	}

	claims, err := s.issuer.Verify(sess.Token)
	if err != nil || claims.UserID != sess.UserID {
		s.log.Warn("Session token rejected", zap.String("user", sess.UserID), zap.Error(err))
		return nil, session.Context{}, s.store.Clear()
	}

	u, err := s.data.GetCurrentUser(ctx, sess)
	if err != nil {
		return nil, session.Context{}, err
	}
	if u == nil || !hasSession(*u, sess.Token) {
		s.log.Warn("Session revoked", zap.String("user", sess.UserID))
		return nil, session.Context{}, s.store.Clear()
	}
	return u, sess, nil
}

func hasSession(u schema.User, token string) bool {
	for _, rec := range u.Sessions {
		if rec.Token == token {
			return true
		}
	}
	return false
}

// Logout revokes every session of the user and forgets the local one.
func (s *Service) Logout(ctx context.Context, sess session.Context) error {
	u, err := s.data.GetCurrentUser(ctx, sess)
	if err != nil {
		return err
	}
	if u != nil {
		u.IsLoggedIn = false
		u.Sessions = []schema.Session{}
		if _, err := s.data.UpdateUser(ctx, sess, *u); err != nil {
			return err
		}
	}
	s.data.EndSession()
	s.log.Info("Revoked session tokens", zap.String("user", sess.UserID))
	return s.store.Clear()
}

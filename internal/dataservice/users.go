package dataservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/celerix-dev/socialboost-store/internal/notify"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/internal/vault"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"go.uber.org/zap"
)

// ErrInvalidUser is returned when a user record cannot be created or updated.
var ErrInvalidUser = errors.New("invalid user")

// NewUser is the input to CreateUser.
type NewUser struct {
	Email       string
	DisplayName string
	Role        schema.UserRole
	AuthMethod  string
}

func (s *Service) GetAllUsers(ctx context.Context) ([]schema.User, error) {
	return list[schema.User](ctx, s, engine.Users)
}

// GetCurrentUser returns the user that owns sess, or nil when there is no
// session or the user is not stored locally.
func (s *Service) GetCurrentUser(ctx context.Context, sess session.Context) (*schema.User, error) {
	if !sess.Active() {
		return nil, nil
	}
	u, found, err := get[schema.User](ctx, s, engine.Users, sess.UserID)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// CreateUser stores a new user on the free plan and provisions its cloud
// identity. Provisioning failures leave the local user in place.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (schema.User, error) {
	if in.Email == "" {
		return schema.User{}, fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	role := in.Role
	if role == "" {
		role = schema.RoleOwner
	}
	method := in.AuthMethod
	if method == "" {
		method = "password"
	}

	u := schema.User{
		ID:             "usr_" + strings.SplitN(s.newID(), "-", 2)[0],
		Email:          in.Email,
		DisplayName:    in.DisplayName,
		Role:           role,
		IsLoggedIn:     true,
		LinkedAccounts: []schema.SocialAccount{},
		Usage: schema.Usage{
			Plan:           schema.PlanFree,
			BillingHistory: []schema.BillingTransaction{},
		},
		AuthMethod: method,
		Sessions:   []schema.Session{},
	}

	doc, err := sanitize.Document(u)
	if err != nil {
		return schema.User{}, fmt.Errorf("sanitize user: %w", err)
	}
	if err := s.local.Put(ctx, engine.Users, doc); err != nil {
		return schema.User{}, fmt.Errorf("save user: %w", err)
	}
	s.mirror.Provision(ctx, doc)

	s.log.Info("User created", zap.String("user", u.ID))
	return u, nil
}

// UpdateUser saves u, mirrors it to users/{id} and notifies USER_UPDATED.
func (s *Service) UpdateUser(ctx context.Context, sess session.Context, u schema.User) (schema.User, error) {
	if u.ID == "" {
		return schema.User{}, fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	return save(ctx, s, sess, engine.Users, u, notify.UserUpdated)
}

// latest returns the stored copy of u when there is one, so read-modify-write
// helpers build on the newest state rather than a stale caller copy.
func (s *Service) latest(ctx context.Context, u schema.User) (schema.User, error) {
	stored, found, err := get[schema.User](ctx, s, engine.Users, u.ID)
	if err != nil {
		return schema.User{}, err
	}
	if !found {
		return u, nil
	}
	return stored, nil
}

// IncrementUsage adds one AI generation to the user's usage.
func (s *Service) IncrementUsage(ctx context.Context, sess session.Context, u schema.User) (schema.User, error) {
	cur, err := s.latest(ctx, u)
	if err != nil {
		return schema.User{}, err
	}
	cur.Usage.AIGenerations++
	return s.UpdateUser(ctx, sess, cur)
}

// AddBillingTransaction records tx at the head of the billing history.
func (s *Service) AddBillingTransaction(ctx context.Context, sess session.Context, u schema.User, tx schema.BillingTransaction) (schema.User, error) {
	cur, err := s.latest(ctx, u)
	if err != nil {
		return schema.User{}, err
	}
	history := make([]schema.BillingTransaction, 0, len(cur.Usage.BillingHistory)+1)
	history = append(history, tx)
	cur.Usage.BillingHistory = append(history, cur.Usage.BillingHistory...)
	return s.UpdateUser(ctx, sess, cur)
}

// ConnectAccount links platform to the user, replacing any earlier link.
func (s *Service) ConnectAccount(ctx context.Context, sess session.Context, u schema.User, platform string, md schema.AuthMetadata) (schema.User, error) {
	cur, err := s.latest(ctx, u)
	if err != nil {
		return schema.User{}, err
	}
	if md, err = s.sealTokens(md); err != nil {
		return schema.User{}, err
	}

	accounts := make([]schema.SocialAccount, 0, len(cur.LinkedAccounts)+1)
	for _, acc := range cur.LinkedAccounts {
		if acc.Platform != platform {
			accounts = append(accounts, acc)
		}
	}
	accounts = append(accounts, schema.SocialAccount{
		Platform:     platform,
		Handle:       handleFor(cur.DisplayName),
		IsConnected:  true,
		TokenHealth:  "healthy",
		AuthMetadata: &md,
	})
	cur.LinkedAccounts = accounts
	return s.UpdateUser(ctx, sess, cur)
}

// sealedPrefix marks token values encrypted with the token key.
const sealedPrefix = "enc:"

func (s *Service) sealTokens(md schema.AuthMetadata) (schema.AuthMetadata, error) {
	if s.tokenKey == nil {
		return md, nil
	}
	for _, tok := range []*string{&md.AccessToken, &md.RefreshToken} {
		if *tok == "" || strings.HasPrefix(*tok, sealedPrefix) {
			continue
		}
		sealed, err := vault.Encrypt(*tok, s.tokenKey)
		if err != nil {
			return md, fmt.Errorf("seal oauth token: %w", err)
		}
		*tok = sealedPrefix + sealed
	}
	return md, nil
}

// RevealTokens returns md with any tokens sealed by ConnectAccount decrypted.
func (s *Service) RevealTokens(md schema.AuthMetadata) (schema.AuthMetadata, error) {
	for _, tok := range []*string{&md.AccessToken, &md.RefreshToken} {
		sealed, ok := strings.CutPrefix(*tok, sealedPrefix)
		if !ok {
			continue
		}
		if s.tokenKey == nil {
			return md, fmt.Errorf("reveal oauth token: %w", vault.ErrDecrypt)
		}
		plain, err := vault.Decrypt(sealed, s.tokenKey)
		if err != nil {
			return md, fmt.Errorf("reveal oauth token: %w", err)
		}
		*tok = plain
	}
	return md, nil
}

// handleFor derives a default @handle from a display name.
func handleFor(displayName string) string {
	return "@" + strings.Join(strings.Fields(strings.ToLower(displayName)), "")
}

// TogglePlatform flips the connected flag of the user's platform account.
// Users without that platform are saved unchanged.
func (s *Service) TogglePlatform(ctx context.Context, sess session.Context, u schema.User, platform string) (schema.User, error) {
	cur, err := s.latest(ctx, u)
	if err != nil {
		return schema.User{}, err
	}
	for i := range cur.LinkedAccounts {
		if cur.LinkedAccounts[i].Platform == platform {
			cur.LinkedAccounts[i].IsConnected = !cur.LinkedAccounts[i].IsConnected
		}
	}
	return s.UpdateUser(ctx, sess, cur)
}

// AutomationPatch lists the automation settings to change. Nil fields keep
// their current value.
type AutomationPatch struct {
	AutoReplyDMs            *bool
	AutoReplyComments       *bool
	PreferredLanguage       *string
	SocialListeningKeywords []string
	SafetyThreshold         *float64
}

// UpdateAutomation applies patch over the user's settings, starting from
// schema.DefaultAutomation when the user has none yet.
func (s *Service) UpdateAutomation(ctx context.Context, sess session.Context, u schema.User, patch AutomationPatch) (schema.User, error) {
	cur, err := s.latest(ctx, u)
	if err != nil {
		return schema.User{}, err
	}

	settings := schema.DefaultAutomation()
	if cur.AutomationSettings != nil {
		settings = *cur.AutomationSettings
	}
	if patch.AutoReplyDMs != nil {
		settings.AutoReplyDMs = *patch.AutoReplyDMs
	}
	if patch.AutoReplyComments != nil {
		settings.AutoReplyComments = *patch.AutoReplyComments
	}
	if patch.PreferredLanguage != nil {
		settings.PreferredLanguage = *patch.PreferredLanguage
	}
	if patch.SocialListeningKeywords != nil {
		settings.SocialListeningKeywords = patch.SocialListeningKeywords
	}
	if patch.SafetyThreshold != nil {
		settings.SafetyThreshold = *patch.SafetyThreshold
	}
	cur.AutomationSettings = &settings
	return s.UpdateUser(ctx, sess, cur)
}

// Package dataservice is the single entry point the rest of SocialBoost uses
// to read and write its records.
//
// Every save follows the same order: sanitize, write locally, push to the
// cloud mirror, then notify other instances for users, profiles and media.
// The local write is authoritative and its errors are returned; mirror and
// notification failures are logged and swallowed. Reads only touch the local
// store. The cloud is pulled only by Boot and Resync.
package dataservice

import (
	"context"
	"sync"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/mirror"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the session and sync state of a Service.
type State int

const (
	// Offline means no session, or the last pull failed: reads are local only.
	Offline State = iota
	// Syncing means a pull is in flight.
	Syncing
	// Connected means the last pull succeeded. It says nothing about pushes.
	Connected
)

func (s State) String() string {
	switch s {
	case Syncing:
		return "SYNCING"
	case Connected:
		return "CONNECTED"
	default:
		return "OFFLINE"
	}
}

// Service composes the local store, the cloud mirror and the notifier.
type Service struct {
	local    sdk.LocalStore
	mirror   *mirror.Mirror
	notifier sdk.Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	tokenKey []byte
	now      func() time.Time
	newID    func() string

	mu      sync.RWMutex
	state   State
	session session.Context // last session synced with, zero after EndSession
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the channel used to tell other instances about changes.
func WithNotifier(n sdk.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithTokenKey makes ConnectAccount encrypt OAuth tokens with key before
// they are stored or mirrored.
func WithTokenKey(key []byte) Option {
	return func(s *Service) { s.tokenKey = key }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(log) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service over local. A nil mirror means local-only operation.
func New(local sdk.LocalStore, mir *mirror.Mirror, opts ...Option) *Service {
	s := &Service{
		local: local,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if mir == nil {
		mir = mirror.New(local, nil, s.log, s.metrics)
	}
	s.mirror = mir
	s.log = s.log.Named("dataservice")
	s.metrics.SetSyncState(int(Offline))
	return s
}

// State returns the current session and sync state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	if prev != st {
		s.log.Info("Sync state changed", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
	s.metrics.SetSyncState(int(st))
}

// Boot pulls the workspace of sess at startup. It reports whether the local
// store is now synchronized; false means the caller runs local-only.
func (s *Service) Boot(ctx context.Context, sess session.Context) bool {
	return s.sync(ctx, sess, "boot")
}

// Resync pulls the workspace again on explicit request.
func (s *Service) Resync(ctx context.Context, sess session.Context) bool {
	return s.sync(ctx, sess, "resync")
}

func (s *Service) sync(ctx context.Context, sess session.Context, trigger string) bool {
	if !sess.Active() || sess.Expired(s.now()) {
		s.setSession(session.Context{})
		s.setState(Offline)
		return false
	}
	s.setSession(sess)

	s.setState(Syncing)
	if !s.mirror.Pull(ctx, sess) {
		s.log.Warn("Running in local-only mode", zap.String("trigger", trigger))
		s.setState(Offline)
		return false
	}
	s.setState(Connected)
	return true
}

// EndSession drops back to local-only operation.
func (s *Service) EndSession() {
	s.setSession(session.Context{})
	s.setState(Offline)
}

func (s *Service) setSession(sess session.Context) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Service) currentSession() session.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// FollowRemote resyncs whenever another instance reports a change, using the
// session of the last Boot or Resync. Notices that arrive without a session
// are ignored. ctx bounds every pull; cancel stops following.
func (s *Service) FollowRemote(ctx context.Context) (cancel func()) {
	return s.OnRemoteUpdate(func(changeType string) {
		sess := s.currentSession()
		if !sess.Active() || ctx.Err() != nil {
			return
		}
		s.log.Debug("Remote change, resyncing", zap.String("type", changeType))
		s.Resync(ctx, sess)
	})
}

// OnRemoteUpdate registers fn for change tags sent by other instances.
func (s *Service) OnRemoteUpdate(fn func(changeType string)) (cancel func()) {
	if s.notifier == nil {
		return func() {}
	}
	return s.notifier.OnNotify(fn)
}

// Broadcast sends a custom change tag to other instances.
func (s *Service) Broadcast(ctx context.Context, changeType string) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, changeType)
}

// notify is Broadcast for the save path, where failures are only logged.
func (s *Service) notify(ctx context.Context, changeType string) {
	if err := s.Broadcast(ctx, changeType); err != nil {
		s.log.Warn("Change notification failed", zap.String("type", changeType), zap.Error(err))
	}
}

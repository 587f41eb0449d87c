// Package mirror replicates local records to the remote document store.
//
// Pushes and deletes are best effort: failures are logged and counted but never
// returned, so the local write that triggered them always stands. Pull is the
// only path that overwrites local records with remote data.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/docstore"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"go.uber.org/zap"
)

// ErrNoRemote is returned by Ping when no remote store is configured.
var ErrNoRemote = errors.New("no remote document store configured")

// SyncedAtField is attached to every pushed record.
const SyncedAtField = "lastSyncedAt"

// Mirror pushes records from a local store to a remote DocumentStore and
// pulls them back. A nil remote turns every operation into a no-op.
type Mirror struct {
	local   sdk.LocalStore
	remote  sdk.DocumentStore
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(local sdk.LocalStore, remote sdk.DocumentStore, log *zap.Logger, m *metrics.Metrics) *Mirror {
	return &Mirror{
		local:   local,
		remote:  remote,
		log:     logger.OrNop(log).Named("mirror"),
		metrics: m,
		now:     time.Now,
	}
}

// Enabled reports whether a remote store is configured.
func (m *Mirror) Enabled() bool {
	return m.remote != nil
}

// RemotePath returns where a record of partition with identity id lives remotely.
// The users partition is global; every other partition is scoped to the workspace.
func RemotePath(uid, partition, id string) string {
	if partition == engine.Users {
		return docstore.UserPath(id)
	}
	return docstore.WorkspacePath(uid, partition, id)
}

// Push writes record to the remote store, merging with existing remote fields.
// It returns immediately when there is no session or no remote.
func (m *Mirror) Push(ctx context.Context, sess session.Context, partition string, record any) {
	if !sess.Active() || m.remote == nil {
		m.metrics.MirrorPush(partition, metrics.ResultSkipped)
		return
	}

	log := m.log.With(zap.String("partition", partition))
	doc, id, err := m.prepare(partition, record)
	if err != nil {
		log.Warn("Upstream push skipped", zap.Error(err))
		m.metrics.MirrorPush(partition, metrics.ResultError)
		return
	}
	doc[SyncedAtField] = sanitize.FormatTime(m.now())

	path := RemotePath(sess.UserID, partition, id)
	if err := m.remote.Set(ctx, path, doc, true); err != nil {
		log.Warn("Upstream push failed", zap.String("path", path), zap.Error(err))
		m.metrics.MirrorPush(partition, metrics.ResultError)
		return
	}
	log.Debug("Upstream push succeeded", zap.String("path", path))
	m.metrics.MirrorPush(partition, metrics.ResultOK)
}

// Provision writes a newly created user to users/{id}, replacing anything there.
// It needs no session: the user being provisioned is the future session owner.
func (m *Mirror) Provision(ctx context.Context, user any) {
	if m.remote == nil {
		m.metrics.MirrorPush(engine.Users, metrics.ResultSkipped)
		return
	}

	doc, id, err := m.prepare(engine.Users, user)
	if err != nil {
		m.log.Warn("Cloud identity provision skipped", zap.Error(err))
		m.metrics.MirrorPush(engine.Users, metrics.ResultError)
		return
	}
	path := docstore.UserPath(id)
	if err := m.remote.Set(ctx, path, doc, false); err != nil {
		m.log.Warn("Cloud identity provision failed, local user created", zap.String("path", path), zap.Error(err))
		m.metrics.MirrorPush(engine.Users, metrics.ResultError)
		return
	}
	m.metrics.MirrorPush(engine.Users, metrics.ResultOK)
}

// Delete removes a record from the remote store, best effort.
func (m *Mirror) Delete(ctx context.Context, sess session.Context, partition, key string) {
	if !sess.Active() || m.remote == nil {
		m.metrics.MirrorDelete(partition, metrics.ResultSkipped)
		return
	}

	path := RemotePath(sess.UserID, partition, key)
	if err := m.remote.Delete(ctx, path); err != nil {
		m.log.Warn("Remote deletion failed", zap.String("path", path), zap.Error(err))
		m.metrics.MirrorDelete(partition, metrics.ResultError)
		return
	}
	m.metrics.MirrorDelete(partition, metrics.ResultOK)
}

// Pull copies every remote record of the workspace into the local store, remote
// winning. Partitions with out-of-line keys are local only and skipped. It
// stops at the first failure and reports false; partitions pulled before the
// failure keep their new contents.
func (m *Mirror) Pull(ctx context.Context, sess session.Context) bool {
	if !sess.Active() || m.remote == nil {
		return false
	}

	start := m.now()
	m.log.Info("Pulling remote state", zap.String("user", sess.UserID))

	total := 0
	for _, p := range m.local.Partitions() {
		if p.KeyField == "" {
			continue
		}
		n, err := m.pullPartition(ctx, sess, p)
		if err != nil {
			m.log.Warn("Global pull failed, running in local-only mode",
				zap.String("partition", p.Name), zap.Error(err))
			m.metrics.MirrorPull(metrics.ResultError, m.now().Sub(start))
			return false
		}
		total += n
	}

	m.log.Info("Local node is synchronized with the cloud", zap.Int("records", total))
	m.metrics.MirrorPull(metrics.ResultOK, m.now().Sub(start))
	return true
}

func (m *Mirror) pullPartition(ctx context.Context, sess session.Context, p sdk.Partition) (int, error) {
	var snaps []sdk.Snapshot
	if p.Name == engine.Users {
		// User records live at users/{id}; the workspace owner's is the only one to pull.
		path := docstore.UserPath(sess.UserID)
		doc, err := m.remote.Get(ctx, path)
		if errors.Is(err, sdk.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		snaps = []sdk.Snapshot{{Path: path, Data: doc}}
	} else {
		var err error
		snaps, err = m.remote.Query(ctx, docstore.WorkspaceCollection(sess.UserID, p.Name))
		if err != nil {
			return 0, err
		}
	}

	for _, snap := range snaps {
		doc, err := sanitize.Document(snap.Data)
		if err != nil {
			return 0, fmt.Errorf("sanitize %s: %w", snap.Path, err)
		}
		if _, ok := doc[p.KeyField]; !ok {
			doc[p.KeyField] = snap.ID()
		}
		if err := m.local.Put(ctx, p.Name, doc); err != nil {
			return 0, fmt.Errorf("store %s: %w", snap.Path, err)
		}
	}
	return len(snaps), nil
}

// Ping measures a round trip to the remote store.
func (m *Mirror) Ping(ctx context.Context) (time.Duration, error) {
	if m.remote == nil {
		return 0, ErrNoRemote
	}
	if p, ok := m.remote.(sdk.Pinger); ok {
		return p.Ping(ctx)
	}
	start := m.now()
	_, err := m.remote.Get(ctx, "system/health")
	if err != nil && !errors.Is(err, sdk.ErrNotFound) {
		return 0, err
	}
	return m.now().Sub(start), nil
}

// prepare sanitizes record and extracts its identity for partition.
func (m *Mirror) prepare(partition string, record any) (sdk.Document, string, error) {
	doc, err := sanitize.Document(record)
	if err != nil {
		return nil, "", err
	}
	p, ok := m.partition(partition)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", engine.ErrPartitionNotFound, partition)
	}
	id, err := engine.KeyOf(p, doc)
	if err != nil {
		return nil, "", err
	}
	return doc, id, nil
}

func (m *Mirror) partition(name string) (sdk.Partition, bool) {
	for _, p := range m.local.Partitions() {
		if p.Name == name {
			return p, true
		}
	}
	return sdk.Partition{}, false
}

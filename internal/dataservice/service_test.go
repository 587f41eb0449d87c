package dataservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/docstore"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/mirror"
	"github.com/celerix-dev/socialboost-store/internal/notify"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errOffline = errors.New("remote unreachable")

// countingRemote records every call made to the remote store.
type countingRemote struct {
	*docstore.Memory
	mu    sync.Mutex
	calls int
	down  bool
}

func (c *countingRemote) hit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.down {
		return errOffline
	}
	return nil
}

func (c *countingRemote) Get(ctx context.Context, path string) (sdk.Document, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Memory.Get(ctx, path)
}

func (c *countingRemote) Set(ctx context.Context, path string, doc sdk.Document, merge bool) error {
	if err := c.hit(); err != nil {
		return err
	}
	return c.Memory.Set(ctx, path, doc, merge)
}

func (c *countingRemote) Query(ctx context.Context, collection string) ([]sdk.Snapshot, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	return c.Memory.Query(ctx, collection)
}

func (c *countingRemote) Delete(ctx context.Context, path string) error {
	if err := c.hit(); err != nil {
		return err
	}
	return c.Memory.Delete(ctx, path)
}

func (c *countingRemote) Ping(ctx context.Context) (time.Duration, error) {
	if err := c.hit(); err != nil {
		return 0, err
	}
	return c.Memory.Ping(ctx)
}

func (c *countingRemote) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type harness struct {
	svc    *Service
	local  *engine.MemStore
	remote *countingRemote
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	local, err := engine.Open(engine.DefaultSchema(), nil)
	require.NoError(t, err)
	remote := &countingRemote{Memory: docstore.NewMemory()}

	log := zaptest.NewLogger(t)
	mir := mirror.New(local, remote, log, nil)
	svc := New(local, mir, append([]Option{WithLogger(log)}, opts...)...)

	ids := 0
	svc.newID = func() string {
		ids++
		return []string{"1-aaaa", "2-bbbb", "3-cccc", "4-dddd", "5-eeee"}[(ids-1)%5]
	}
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
	return &harness{svc: svc, local: local, remote: remote}
}

var sess = session.Context{UserID: "usr_1", Token: "tok"}

func TestSaveCampaign_WithoutSessionStaysLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := schema.Campaign{ID: "c1", Name: "Launch", Status: "active"}
	got, err := h.svc.SaveCampaign(ctx, session.Context{}, c)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	stored, err := h.svc.GetCampaignByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Launch", stored.Name)
	assert.Zero(t, h.remote.Calls(), "no network call without a session")
}

func TestIncrementUsage_ThreeTimes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com", DisplayName: "Ada"})
	require.NoError(t, err)
	require.Equal(t, "usr_1", u.ID)
	require.Equal(t, schema.PlanFree, u.Usage.Plan)

	for i := 0; i < 3; i++ {
		_, err := h.svc.IncrementUsage(ctx, sess, u)
		require.NoError(t, err)
	}

	users, err := h.svc.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "usr_1", users[0].ID)
	assert.Equal(t, 3, users[0].Usage.AIGenerations)

	remote, err := h.remote.Memory.Get(ctx, "users/usr_1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), remote["usage"].(map[string]any)["aiGenerations"])
}

func TestDeleteFact_IsNotResurrectedByPull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SaveFact(ctx, sess, schema.KnowledgeFact{ID: "f1", Category: "pricing", Content: "N5000 flat rate"})
	require.NoError(t, err)
	require.NoError(t, h.svc.DeleteFact(ctx, sess, "f1"))

	facts, err := h.svc.GetKnowledgeFacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)

	require.True(t, h.svc.Resync(ctx, sess))
	facts, err = h.svc.GetKnowledgeFacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestSave_SurvivesUnreachableRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.down = true

	_, err := h.svc.SaveMedia(ctx, sess, schema.MediaAsset{ID: "m1", Type: "image"})
	require.NoError(t, err)
	_, err = h.svc.SavePost(ctx, sess, schema.ScheduledPost{ID: "p1", Title: "Hello"})
	require.NoError(t, err)

	media, err := h.svc.GetAllMedia(ctx)
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, "m1", media[0].ID)
	assert.Equal(t, 2, h.remote.Calls(), "each save attempted one push")
}

func TestSave_LocalFailurePropagates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.local.Close())

	_, err := h.svc.SaveCampaign(context.Background(), sess, schema.Campaign{ID: "c1"})
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.Zero(t, h.remote.Calls(), "nothing is pushed when the local write fails")
}

func TestSaveProfile_NotifiesOtherInstance(t *testing.T) {
	hub := notify.NewHub(nil, nil)
	tabA := hub.Join(notify.DefaultChannel)
	tabB := hub.Join(notify.DefaultChannel)
	defer tabA.Close()
	defer tabB.Close()

	a := newHarness(t, WithNotifier(tabA))
	b := newHarness(t, WithNotifier(tabB))

	got := make(chan string, 1)
	cancel := b.svc.OnRemoteUpdate(func(changeType string) { got <- changeType })
	defer cancel()

	_, err := a.svc.SaveProfile(context.Background(), sess, schema.Profile{ProfileID: "pr1", Name: "Mama Put"})
	require.NoError(t, err)

	select {
	case tag := <-got:
		assert.Equal(t, notify.ProfileUpdated, tag)
	case <-time.After(2 * time.Second):
		t.Fatal("PROFILE_UPDATED was not delivered")
	}
}

func TestBroadcast_WithoutNotifier(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.svc.Broadcast(context.Background(), "CUSTOM"))
	h.svc.OnRemoteUpdate(func(string) {})()
}

func TestBoot_StateMachine(t *testing.T) {
	m := metrics.New(false)
	h := newHarness(t, WithMetrics(m))
	ctx := context.Background()
	assert.Equal(t, Offline, h.svc.State())

	assert.False(t, h.svc.Boot(ctx, session.Context{}))
	assert.Equal(t, Offline, h.svc.State())
	assert.Zero(t, h.remote.Calls())

	require.NoError(t, h.remote.Memory.Set(ctx, "workspaces/usr_1/campaigns/c9", sdk.Document{"id": "c9", "name": "Remote"}, false))
	assert.True(t, h.svc.Boot(ctx, sess))
	assert.Equal(t, Connected, h.svc.State())
	expected := `
# HELP boost_sync_state Current sync state: 0 offline, 1 syncing, 2 connected.
# TYPE boost_sync_state gauge
boost_sync_state 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), metrics.MetricSyncState))

	c, err := h.svc.GetCampaignByID(ctx, "c9")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Remote", c.Name)

	h.remote.down = true
	_, err = h.svc.SaveCampaign(ctx, sess, schema.Campaign{ID: "c10"})
	require.NoError(t, err)
	assert.Equal(t, Connected, h.svc.State(), "push failures never demote")

	assert.False(t, h.svc.Resync(ctx, sess))
	assert.Equal(t, Offline, h.svc.State())

	h.remote.down = false
	assert.True(t, h.svc.Resync(ctx, sess))
	h.svc.EndSession()
	assert.Equal(t, Offline, h.svc.State())
	assert.Equal(t, "OFFLINE", h.svc.State().String())
}

func TestBoot_ExpiredSessionIsOffline(t *testing.T) {
	h := newHarness(t)
	expired := session.Context{UserID: "usr_1", ExpiresAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	assert.False(t, h.svc.Boot(context.Background(), expired))
	assert.Zero(t, h.remote.Calls())
}

func TestGetCurrentUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.svc.GetCurrentUser(ctx, session.Context{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = h.svc.GetCurrentUser(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com"})
	require.NoError(t, err)
	u, err = h.svc.GetCurrentUser(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, schema.RoleOwner, u.Role)
}

func TestCreateUser_ProvisionsCloudIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.remote.Memory.Set(ctx, "users/usr_1", sdk.Document{"stale": true}, false))

	_, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com", DisplayName: "Ada"})
	require.NoError(t, err)

	doc, err := h.remote.Memory.Get(ctx, "users/usr_1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", doc["email"])
	assert.NotContains(t, doc, "stale")

	_, err = h.svc.CreateUser(ctx, NewUser{})
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = h.svc.UpdateUser(ctx, sess, schema.User{})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestUserMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com", DisplayName: "Ada Lovelace"})
	require.NoError(t, err)

	md := schema.AuthMetadata{AccessToken: "at", Scopes: []string{"publish"}, TokenType: "Bearer"}
	u, err = h.svc.ConnectAccount(ctx, sess, u, "Instagram", md)
	require.NoError(t, err)
	u, err = h.svc.ConnectAccount(ctx, sess, u, "Instagram", md)
	require.NoError(t, err)
	require.Len(t, u.LinkedAccounts, 1, "reconnecting replaces the link")
	assert.Equal(t, "@adalovelace", u.LinkedAccounts[0].Handle)
	assert.True(t, u.LinkedAccounts[0].IsConnected)

	u, err = h.svc.TogglePlatform(ctx, sess, u, "Instagram")
	require.NoError(t, err)
	assert.False(t, u.LinkedAccounts[0].IsConnected)

	on := true
	u, err = h.svc.UpdateAutomation(ctx, sess, u, AutomationPatch{AutoReplyDMs: &on})
	require.NoError(t, err)
	require.NotNil(t, u.AutomationSettings)
	assert.True(t, u.AutomationSettings.AutoReplyDMs)
	assert.Equal(t, "Mixed", u.AutomationSettings.PreferredLanguage)

	lang := "English"
	u, err = h.svc.UpdateAutomation(ctx, sess, u, AutomationPatch{PreferredLanguage: &lang})
	require.NoError(t, err)
	assert.True(t, u.AutomationSettings.AutoReplyDMs, "unpatched fields keep their value")
	assert.Equal(t, "English", u.AutomationSettings.PreferredLanguage)

	stored, err := h.svc.GetCurrentUser(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, u, *stored)
}

func TestAddBillingTransaction_NewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com"})
	require.NoError(t, err)

	first := schema.BillingTransaction{ID: "tx1", Plan: schema.PlanPro, Amount: decimal.RequireFromString("15000.00"), Currency: "NGN", Status: "confirmed"}
	second := schema.BillingTransaction{ID: "tx2", Plan: schema.PlanPro, Amount: decimal.RequireFromString("15000.50"), Currency: "NGN", Status: "pending"}
	_, err = h.svc.AddBillingTransaction(ctx, sess, u, first)
	require.NoError(t, err)
	u, err = h.svc.AddBillingTransaction(ctx, sess, u, second)
	require.NoError(t, err)

	require.Len(t, u.Usage.BillingHistory, 2)
	assert.Equal(t, "tx2", u.Usage.BillingHistory[0].ID)
	assert.True(t, u.Usage.BillingHistory[0].Amount.Equal(decimal.RequireFromString("15000.5")))
}

func TestGetProfile_FollowsActivePointer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.svc.GetProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	// Pulled profiles carry no pointer: the lowest id wins.
	require.NoError(t, h.local.Put(ctx, engine.Profiles, sdk.Document{"profile_id": "pr2", "name": "Two"}))
	require.NoError(t, h.local.Put(ctx, engine.Profiles, sdk.Document{"profile_id": "pr1", "name": "One"}))
	p, err = h.svc.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pr1", p.ProfileID)

	_, err = h.svc.SaveProfile(ctx, sess, schema.Profile{ProfileID: "pr3", Name: "Three"})
	require.NoError(t, err)
	p, err = h.svc.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pr3", p.ProfileID)
}

func TestGetPostsByCampaign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, p := range []schema.ScheduledPost{
		{ID: "c1-p1", CampaignID: "c1"},
		{ID: "c1-p2", CampaignID: "c2"},
		{ID: "p3", CampaignID: "c1"},
		{ID: "p4"},
	} {
		_, err := h.svc.SavePost(ctx, session.Context{}, p)
		require.NoError(t, err)
	}

	posts, err := h.svc.GetPostsByCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "c1-p1", posts[0].ID)
	assert.Equal(t, "p3", posts[1].ID)

	posts, err = h.svc.GetPostsByCampaign(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestLogActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entry, err := h.svc.LogActivity(ctx, sess, "usr_1", "login")
	require.NoError(t, err)
	assert.Equal(t, "1777627800000-1", entry.ID)
	assert.Equal(t, "2026-05-01T09:30:00.000Z", entry.Timestamp)

	_, err = h.svc.LogActivity(ctx, sess, "usr_1", "logout")
	require.NoError(t, err)

	log, err := h.svc.GetActivityLog(ctx)
	require.NoError(t, err)
	require.Len(t, log, 2, "entries in the same millisecond do not collide")
	assert.Equal(t, "login", log[0].Action)

	_, err = h.remote.Memory.Get(ctx, "workspaces/usr_1/activity/"+entry.ID)
	assert.NoError(t, err)
}

func TestGroundingContext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	text, err := h.svc.GroundingContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, noFacts, text)

	_, err = h.svc.SaveFact(ctx, sess, schema.KnowledgeFact{ID: "f1", Category: "pricing", Content: "N5000 flat rate"})
	require.NoError(t, err)
	_, err = h.svc.SaveFact(ctx, sess, schema.KnowledgeFact{ID: "f2", Category: "logistics", Content: "Lagos only", LastVerifiedAt: "2026-04-30"})
	require.NoError(t, err)

	text, err = h.svc.GroundingContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "- PRICING (Updated: N/A): N5000 flat rate\n- LOGISTICS (Updated: 2026-04-30): Lagos only", text)
}

func TestTestConnection(t *testing.T) {
	h := newHarness(t)
	res := h.svc.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.False(t, res.LocalOnly)

	h.remote.down = true
	res = h.svc.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.True(t, res.LocalOnly)

	local, err := engine.Open(engine.DefaultSchema(), nil)
	require.NoError(t, err)
	res = New(local, nil).TestConnection(context.Background())
	assert.True(t, res.LocalOnly)
}

func TestStorageStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = h.svc.SavePost(ctx, sess, schema.ScheduledPost{ID: "p1"})
	require.NoError(t, err)
	_, err = h.svc.SaveMedia(ctx, sess, schema.MediaAsset{ID: "m1"})
	require.NoError(t, err)
	_, err = h.svc.SaveMedia(ctx, sess, schema.MediaAsset{ID: "m2"})
	require.NoError(t, err)

	stats, err := h.svc.StorageStats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats.Users, 1)
	assert.Empty(t, stats.Profiles)
	assert.Equal(t, 1, stats.PostCount)
	assert.Equal(t, 2, stats.MediaCount)
	assert.Equal(t, "SocialBoost_Prod_V2", stats.DBName)
	assert.Equal(t, 14, stats.Version)
}

func TestConnectAccount_SealsTokens(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	h := newHarness(t, WithTokenKey(key))
	ctx := context.Background()
	u, err := h.svc.CreateUser(ctx, NewUser{Email: "ada@example.com", DisplayName: "Ada"})
	require.NoError(t, err)

	u, err = h.svc.ConnectAccount(ctx, sess, u, "TikTok", schema.AuthMetadata{AccessToken: "at-123", RefreshToken: "rt-456"})
	require.NoError(t, err)

	stored := u.LinkedAccounts[0].AuthMetadata
	assert.NotContains(t, stored.AccessToken, "at-123")
	remote, err := h.remote.Memory.Get(ctx, "users/usr_1")
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprint(remote), "at-123", "plaintext tokens never reach the cloud")

	plain, err := h.svc.RevealTokens(*stored)
	require.NoError(t, err)
	assert.Equal(t, "at-123", plain.AccessToken)
	assert.Equal(t, "rt-456", plain.RefreshToken)

	other := newHarness(t, WithTokenKey(bytes.Repeat([]byte{8}, 32)))
	_, err = other.svc.RevealTokens(*stored)
	assert.Error(t, err)
}

func TestFollowRemote_ResyncsOnNotice(t *testing.T) {
	hub := notify.NewHub(nil, nil)
	tabA := hub.Join(notify.DefaultChannel)
	tabB := hub.Join(notify.DefaultChannel)
	defer tabA.Close()
	defer tabB.Close()
	ctx := context.Background()

	a := newHarness(t, WithNotifier(tabA))
	localB, err := engine.Open(engine.DefaultSchema(), nil)
	require.NoError(t, err)
	b := New(localB, mirror.New(localB, a.remote, zaptest.NewLogger(t), nil), WithNotifier(tabB))

	stop := b.FollowRemote(ctx)
	defer stop()
	require.True(t, b.Boot(ctx, sess))

	_, err = a.svc.SaveProfile(ctx, sess, schema.Profile{ProfileID: "pr1", Name: "Mama Put"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := localB.Get(ctx, engine.Profiles, "pr1")
		return err == nil && b.State() == Connected
	}, 2*time.Second, 10*time.Millisecond, "instance B did not pull the new profile")

	// Without a session the notice is ignored.
	b.EndSession()
	_, err = a.svc.SaveMedia(ctx, sess, schema.MediaAsset{ID: "m1", Type: "image"})
	require.NoError(t, err)
	calls := a.remote.Calls()
	assert.Never(t, func() bool { return a.remote.Calls() > calls }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, Offline, b.State())
}

func TestFollowRemote_StopsAfterCancel(t *testing.T) {
	hub := notify.NewHub(nil, nil)
	tabA := hub.Join(notify.DefaultChannel)
	tabB := hub.Join(notify.DefaultChannel)
	defer tabA.Close()
	defer tabB.Close()
	ctx := context.Background()

	b := newHarness(t, WithNotifier(tabB))
	require.True(t, b.svc.Boot(ctx, sess))
	b.svc.FollowRemote(ctx)()

	calls := b.remote.Calls()
	require.NoError(t, tabA.Notify(ctx, notify.UserUpdated))
	assert.Never(t, func() bool { return b.remote.Calls() > calls }, 200*time.Millisecond, 10*time.Millisecond)
}

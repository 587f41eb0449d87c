package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

func TestMemStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	ms, err := Open(DefaultSchema(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	doc := sdk.Document{"id": "c1", "name": "Launch"}
	if err := ms.Put(ctx, Campaigns, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ms.Get(ctx, Campaigns, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["name"] != "Launch" {
		t.Errorf("Expected Launch, got %v", got["name"])
	}

	_, err = ms.Get(ctx, Campaigns, "non-existent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := ms.Delete(ctx, Campaigns, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err = ms.Get(ctx, Campaigns, "c1")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error.
	if err := ms.Delete(ctx, Campaigns, "c1"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestMemStore_PutIsUpsertByIdentity(t *testing.T) {
	ctx := context.Background()
	ms, _ := Open(DefaultSchema(), nil)

	ms.Put(ctx, Profiles, sdk.Document{"profile_id": "pr1", "tone": "warm"})
	ms.Put(ctx, Profiles, sdk.Document{"profile_id": "pr1", "tone": "bold"})

	all, err := ms.GetAll(ctx, Profiles)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 profile, got %d", len(all))
	}
	if all[0]["tone"] != "bold" {
		t.Errorf("Expected last write to win, got %v", all[0]["tone"])
	}
}

func TestMemStore_MissingIdentityAndPartition(t *testing.T) {
	ctx := context.Background()
	ms, _ := Open(DefaultSchema(), nil)

	if err := ms.Put(ctx, Posts, sdk.Document{"title": "no id"}); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("Expected ErrMissingIdentity, got %v", err)
	}
	if err := ms.Put(ctx, Metadata, sdk.Document{"id": "x"}); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("Expected ErrMissingIdentity for out-of-line partition, got %v", err)
	}
	if err := ms.PutKey(ctx, Metadata, "active_profile", sdk.Document{"profileId": "pr1"}); err != nil {
		t.Errorf("PutKey failed: %v", err)
	}
	if _, err := ms.GetAll(ctx, "nope"); !errors.Is(err, ErrPartitionNotFound) {
		t.Errorf("Expected ErrPartitionNotFound, got %v", err)
	}
}

func TestMemStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ms, _ := Open(DefaultSchema(), nil)

	doc := sdk.Document{"id": "m1", "tags": []any{"a"}}
	ms.Put(ctx, Media, doc)
	doc["tags"].([]any)[0] = "mutated"

	got, _ := ms.Get(ctx, Media, "m1")
	if got["tags"].([]any)[0] != "a" {
		t.Errorf("Store shares memory with caller: %v", got["tags"])
	}
}

func TestPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := NewPersistence(tmpDir)
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}

	manifest := Manifest{Name: "test", Version: 1, Partitions: []sdk.Partition{{Name: "posts", KeyField: "id"}}}
	if err := p.SaveManifest(manifest); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}
	data := map[string]sdk.Document{"p1": {"id": "p1", "title": "hello"}}
	if err := p.SavePartition("posts", data); err != nil {
		t.Fatalf("SavePartition failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "posts.json")); os.IsNotExist(err) {
		t.Fatal("Partition file was not created")
	}

	m, all, err := p.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Version != 1 || len(m.Partitions) != 1 {
		t.Errorf("Manifest mismatch: %+v", m)
	}
	if all["posts"]["p1"]["title"] != "hello" {
		t.Errorf("Loaded data mismatch: %v", all["posts"])
	}
}

func TestMemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	p, _ := NewPersistence(tmpDir)
	ms, err := Open(DefaultSchema(), p)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := ms.Put(ctx, Knowledge, sdk.Document{"id": "f1", "content": "N5000 flat rate"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Reopen from disk
	p2, _ := NewPersistence(tmpDir)
	ms2, err := Open(DefaultSchema(), p2)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := ms2.Get(ctx, Knowledge, "f1")
	if err != nil {
		t.Fatalf("Get on reopened store failed: %v", err)
	}
	if got["content"] != "N5000 flat rate" {
		t.Errorf("Expected fact content, got %v", got["content"])
	}
}

func TestOpen_UpgradeAddsPartitionsWithoutDataLoss(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	v1 := Schema{Name: "db", Version: 1, Partitions: []sdk.Partition{{Name: Users, KeyField: "id"}}}
	p, _ := NewPersistence(tmpDir)
	ms, err := Open(v1, p)
	if err != nil {
		t.Fatalf("Open v1 failed: %v", err)
	}
	ms.Put(ctx, Users, sdk.Document{"id": "usr_1"})

	v2 := Schema{Name: "db", Version: 2, Partitions: []sdk.Partition{
		{Name: Users, KeyField: "id"},
		{Name: Knowledge, KeyField: "id"},
	}}
	ms2, err := Open(v2, p)
	if err != nil {
		t.Fatalf("Open v2 failed: %v", err)
	}
	if ms2.Version() != 2 {
		t.Errorf("Expected version 2, got %d", ms2.Version())
	}
	if _, err := ms2.Get(ctx, Users, "usr_1"); err != nil {
		t.Errorf("Existing data lost on upgrade: %v", err)
	}
	if err := ms2.Put(ctx, Knowledge, sdk.Document{"id": "f1"}); err != nil {
		t.Errorf("New partition unusable: %v", err)
	}

	// Opening again at the same version is a no-op.
	if _, err := Open(v2, p); err != nil {
		t.Errorf("Idempotent open failed: %v", err)
	}

	// Going back is refused.
	if _, err := Open(v1, p); !errors.Is(err, ErrVersionDowngrade) {
		t.Errorf("Expected ErrVersionDowngrade, got %v", err)
	}
}

type failingPersister struct{ fail bool }

func (f *failingPersister) Load() (Manifest, map[string]map[string]sdk.Document, error) {
	return Manifest{}, nil, nil
}
func (f *failingPersister) SaveManifest(Manifest) error { return nil }
func (f *failingPersister) SavePartition(string, map[string]sdk.Document) error {
	if f.fail {
		return errors.New("quota exceeded")
	}
	return nil
}

func TestMemStore_FailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	fp := &failingPersister{}
	ms, _ := Open(DefaultSchema(), fp)

	ms.Put(ctx, Campaigns, sdk.Document{"id": "c1", "name": "old"})

	fp.fail = true
	if err := ms.Put(ctx, Campaigns, sdk.Document{"id": "c1", "name": "new"}); err == nil {
		t.Fatal("Expected Put to fail")
	}
	if err := ms.Put(ctx, Campaigns, sdk.Document{"id": "c2"}); err == nil {
		t.Fatal("Expected Put to fail")
	}
	if err := ms.Delete(ctx, Campaigns, "c1"); err == nil {
		t.Fatal("Expected Delete to fail")
	}

	got, err := ms.Get(ctx, Campaigns, "c1")
	if err != nil || got["name"] != "old" {
		t.Errorf("Expected rollback to old value, got %v, %v", got, err)
	}
	if _, err := ms.Get(ctx, Campaigns, "c2"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected c2 to be rolled back, got %v", err)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	ms, _ := Open(DefaultSchema(), nil)
	const (
		numGoroutines = 10
		numOps        = 100
	)
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*numOps)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := fmt.Sprintf("post-%d-%d", id, j)
				if err := ms.Put(ctx, Posts, sdk.Document{"id": key, "n": float64(j)}); err != nil {
					errs <- err
					continue
				}
				doc, err := ms.Get(ctx, Posts, key)
				if err != nil || doc["n"] != float64(j) {
					errs <- fmt.Errorf("expected %d, got %v, err %v", j, doc, err)
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	all, _ := ms.GetAll(ctx, Posts)
	if len(all) != numGoroutines*numOps {
		t.Errorf("Expected %d posts, got %d", numGoroutines*numOps, len(all))
	}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src, _ := Open(DefaultSchema(), nil)
	src.Put(ctx, Users, sdk.Document{"id": "usr_1"})
	src.Put(ctx, Campaigns, sdk.Document{"id": "c1"})
	src.PutKey(ctx, Metadata, "active_profile", sdk.Document{"profileId": "pr1"})

	dst, _ := Open(DefaultSchema(), nil)
	skipped, err := Copy(ctx, src, dst)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != Metadata {
		t.Errorf("Expected only metadata skipped, got %v", skipped)
	}
	if _, err := dst.Get(ctx, Campaigns, "c1"); err != nil {
		t.Errorf("Campaign not copied: %v", err)
	}
}

func TestKeyOf_NumericIdentity(t *testing.T) {
	p := sdk.Partition{Name: Activity, KeyField: "id"}
	cases := []struct {
		in   any
		want string
	}{
		{float64(1.7e12), "1700000000000"},
		{float64(42), "42"},
		{2.5, "2.5"},
		{int64(1 << 60), "1152921504606846976"},
		{7, "7"},
	}
	for _, tc := range cases {
		got, err := KeyOf(p, sdk.Document{"id": tc.in})
		if err != nil {
			t.Fatalf("KeyOf(%v) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("KeyOf(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

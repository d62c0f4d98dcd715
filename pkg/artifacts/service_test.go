package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/blob"
	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/hierarchy"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
	"github.com/trovehq/trove/pkg/storage/memory"
)

var (
	alice = auth.Principal{Username: "alice"}
	bob   = auth.Principal{Username: "bob"}
	root  = auth.Principal{Username: "root", IsGlobalAdmin: true}

	masterRef = hierarchy.ChainRef{Org: "acme", Project: "rover", Branch: "master"}
	tagRef    = hierarchy.ChainRef{Org: "acme", Project: "rover", Branch: "v1.0"}
)

type fixture struct {
	store   *memory.Store
	blobs   *blob.FileStore
	service *Service
}

// newFixture seeds acme/rover with a master branch and a v1.0 tag branch.
// alice created everything and holds admin; bob has no grants.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	store := memory.NewStore()
	org := &registry.Organization{Meta: registry.NewMeta("acme", "alice", now), Name: "acme"}
	project := &registry.Project{Meta: registry.NewMeta("acme:rover", "alice", now), Name: "rover"}
	branch := &registry.Branch{Meta: registry.NewMeta("acme:rover:master", "alice", now), Name: "master"}
	tag := &registry.Branch{Meta: registry.NewMeta("acme:rover:v1.0", "alice", now), Name: "v1.0", IsTag: true}

	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := store.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}
	if err := store.CreateBranch(ctx, tag); err != nil {
		t.Fatalf("seed tag branch: %v", err)
	}

	blobs, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	service := NewService(store, blobs, hierarchy.NewValidator(store), registry.NewResolver(store))
	return &fixture{store: store, blobs: blobs, service: service}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("stores metadata and blob with one history entry", func(t *testing.T) {
		f := newFixture(t)
		data := []byte("report body")

		artifact, err := f.service.Create(ctx, alice, masterRef,
			Input{ID: "report", Filename: "report.pdf", ContentType: "application/pdf"}, data)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if artifact.ID != "acme:rover:master:report" {
			t.Errorf("unexpected id: %s", artifact.ID)
		}
		if len(artifact.History) != 1 {
			t.Fatalf("expected one history entry, got %d", len(artifact.History))
		}
		hash := artifact.History[0].Hash
		if hash == nil || *hash != blob.HashBytes(data) {
			t.Errorf("history entry does not carry the content hash")
		}
		if ok, _ := f.blobs.Exists(ctx, *hash); !ok {
			t.Error("blob not stored")
		}
	})

	t.Run("metadata-only artifact has a nil history hash", func(t *testing.T) {
		f := newFixture(t)
		artifact, err := f.service.Create(ctx, alice, masterRef, Input{ID: "note"}, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if artifact.CurrentHash() != nil {
			t.Error("expected nil hash for metadata-only artifact")
		}
	})

	t.Run("duplicate id is an OperationError", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "dup"}, nil); err != nil {
			t.Fatalf("first Create failed: %v", err)
		}
		_, err := f.service.Create(ctx, alice, masterRef, Input{ID: "dup"}, nil)
		if !errs.IsOperation(err) {
			t.Errorf("expected OperationError, got %v", err)
		}
	})

	t.Run("principal without write is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Create(ctx, bob, masterRef, Input{ID: "denied"}, nil)
		if !errs.IsPermission(err) {
			t.Errorf("expected PermissionError, got %v", err)
		}
	})

	t.Run("org-level write cascades to the project", func(t *testing.T) {
		f := newFixture(t)
		org, _ := f.store.GetOrganization(ctx, "acme")
		org.SetPermission("bob", []auth.Level{auth.Write})
		if err := f.store.UpdateOrganization(ctx, org); err != nil {
			t.Fatalf("grant failed: %v", err)
		}

		if _, err := f.service.Create(ctx, bob, masterRef, Input{ID: "granted"}, nil); err != nil {
			t.Errorf("expected cascaded write to allow create, got %v", err)
		}
	})

	t.Run("archived project blocks creation", func(t *testing.T) {
		f := newFixture(t)
		project, _ := f.store.GetProject(ctx, "acme:rover")
		project.Archive("alice", time.Now())
		if err := f.store.UpdateProject(ctx, project); err != nil {
			t.Fatalf("archive failed: %v", err)
		}

		_, err := f.service.Create(ctx, alice, masterRef, Input{ID: "late"}, nil)
		if !errs.IsArchived(err) {
			t.Errorf("expected ArchivedError, got %v", err)
		}
	})

	t.Run("missing branch reference is malformed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Create(ctx, alice,
			hierarchy.ChainRef{Org: "acme", Project: "rover"}, Input{ID: "x"}, nil)
		if !errs.IsDataFormat(err) {
			t.Errorf("expected DataFormatError, got %v", err)
		}
	})
}

func TestTagBranchImmutability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.service.Create(ctx, alice, tagRef, Input{ID: "frozen"}, nil); !errs.IsOperation(err) {
		t.Errorf("create on tag: expected OperationError, got %v", err)
	}
	if _, err := f.service.Update(ctx, alice, tagRef, "frozen", Patch{}, nil); !errs.IsOperation(err) {
		t.Errorf("update on tag: expected OperationError, got %v", err)
	}
	if err := f.service.Remove(ctx, alice, tagRef, "frozen"); !errs.IsOperation(err) {
		t.Errorf("remove on tag: expected OperationError, got %v", err)
	}
	// Permission level is irrelevant: a global admin is refused too.
	if _, err := f.service.Create(ctx, root, tagRef, Input{ID: "frozen"}, nil); !errs.IsOperation(err) {
		t.Errorf("create on tag as global admin: expected OperationError, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("new blob appends history without touching old entries", func(t *testing.T) {
		f := newFixture(t)
		first := []byte("v1")
		second := []byte("v2")

		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "doc"}, first); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		artifact, err := f.service.Update(ctx, alice, masterRef, "doc", Patch{}, second)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if len(artifact.History) != 2 {
			t.Fatalf("expected 2 history entries, got %d", len(artifact.History))
		}
		if *artifact.History[0].Hash != blob.HashBytes(first) {
			t.Error("earlier history entry was altered")
		}
		if *artifact.History[1].Hash != blob.HashBytes(second) {
			t.Error("new history entry does not carry the new hash")
		}
	})

	t.Run("metadata patch without blob leaves history untouched", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.service.Create(ctx, alice, masterRef,
			Input{ID: "doc", Filename: "old.txt"}, []byte("body")); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		filename := "new.txt"
		artifact, err := f.service.Update(ctx, alice, masterRef, "doc",
			Patch{Filename: &filename, Custom: map[string]string{"team": "avionics"}}, nil)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if artifact.Filename != "new.txt" {
			t.Errorf("filename not patched: %s", artifact.Filename)
		}
		if artifact.Custom["team"] != "avionics" {
			t.Error("custom field not merged")
		}
		if len(artifact.History) != 1 {
			t.Errorf("history grew on a metadata-only patch: %d entries", len(artifact.History))
		}
	})

	t.Run("empty custom value removes the key", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.service.Create(ctx, alice, masterRef,
			Input{ID: "doc", Custom: map[string]string{"team": "avionics"}}, nil); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		artifact, err := f.service.Update(ctx, alice, masterRef, "doc",
			Patch{Custom: map[string]string{"team": ""}}, nil)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, ok := artifact.Custom["team"]; ok {
			t.Error("expected custom key to be removed")
		}
	})

	t.Run("unknown artifact is NotFoundError", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Update(ctx, alice, masterRef, "ghost", Patch{}, nil)
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("shared blob survives until its last referent is removed", func(t *testing.T) {
		f := newFixture(t)
		shared := []byte("shared payload")
		hash := blob.HashBytes(shared)

		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "a1"}, shared); err != nil {
			t.Fatalf("Create a1 failed: %v", err)
		}
		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "a2"}, shared); err != nil {
			t.Fatalf("Create a2 failed: %v", err)
		}

		if err := f.service.Remove(ctx, alice, masterRef, "a1"); err != nil {
			t.Fatalf("Remove a1 failed: %v", err)
		}
		if ok, _ := f.blobs.Exists(ctx, hash); !ok {
			t.Fatal("blob removed while another artifact still references it")
		}

		if err := f.service.Remove(ctx, alice, masterRef, "a2"); err != nil {
			t.Fatalf("Remove a2 failed: %v", err)
		}
		if ok, _ := f.blobs.Exists(ctx, hash); ok {
			t.Error("blob survived its last referent")
		}
	})

	t.Run("unknown artifact is NotFoundError", func(t *testing.T) {
		f := newFixture(t)
		err := f.service.Remove(ctx, alice, masterRef, "ghost")
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}

// TestLifecycleScenario drives the full create, update, delete flow: an org
// whose creator holds admin, a project inheriting permissions from the org,
// a blob-carrying artifact updated to a second version, then removed with
// both blob versions reclaimed.
func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b1 := []byte("first version")
	b2 := []byte("second version")
	h1 := blob.HashBytes(b1)
	h2 := blob.HashBytes(b2)

	created, err := f.service.Create(ctx, alice, masterRef,
		Input{ID: "a1", Filename: "a1.bin"}, b1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(created.History) != 1 || *created.History[0].Hash != h1 {
		t.Fatalf("unexpected initial history: %+v", created.History)
	}

	updated, err := f.service.Update(ctx, alice, masterRef, "a1", Patch{}, b2)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(updated.History) != 2 ||
		*updated.History[0].Hash != h1 || *updated.History[1].Hash != h2 {
		t.Fatalf("unexpected history after update: %+v", updated.History)
	}
	for _, hash := range []string{h1, h2} {
		if ok, _ := f.blobs.Exists(ctx, hash); !ok {
			t.Fatalf("blob %s missing after update", hash)
		}
	}

	if err := f.service.Remove(ctx, alice, masterRef, "a1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	for _, hash := range []string{h1, h2} {
		if ok, _ := f.blobs.Exists(ctx, hash); ok {
			t.Errorf("blob %s not reclaimed after remove", hash)
		}
	}
	if _, err := f.service.Get(ctx, alice, masterRef, "a1", GetOptions{}); !errs.IsNotFound(err) {
		t.Errorf("expected NotFoundError after remove, got %v", err)
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("read permission suffices", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "doc"}, nil); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		org, _ := f.store.GetOrganization(ctx, "acme")
		org.SetPermission("bob", []auth.Level{auth.Read})
		if err := f.store.UpdateOrganization(ctx, org); err != nil {
			t.Fatalf("grant failed: %v", err)
		}

		if _, err := f.service.Get(ctx, bob, masterRef, "doc", GetOptions{}); err != nil {
			t.Errorf("Get with read grant failed: %v", err)
		}
		if _, err := f.service.Create(ctx, bob, masterRef, Input{ID: "other"}, nil); !errs.IsPermission(err) {
			t.Errorf("read grant must not allow create, got %v", err)
		}
	})

	t.Run("archived artifact hidden unless opted in", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "doc"}, nil); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		artifact, _ := f.store.GetArtifact(ctx, "acme:rover:master:doc")
		artifact.Archive("alice", time.Now())
		if err := f.store.UpdateArtifact(ctx, artifact); err != nil {
			t.Fatalf("archive failed: %v", err)
		}

		if _, err := f.service.Get(ctx, alice, masterRef, "doc", GetOptions{}); !errs.IsArchived(err) {
			t.Errorf("expected ArchivedError, got %v", err)
		}
		got, err := f.service.Get(ctx, alice, masterRef, "doc", GetOptions{IncludeArchived: true})
		if err != nil {
			t.Fatalf("Get with IncludeArchived failed: %v", err)
		}
		if !got.Archived() {
			t.Error("expected the archived record")
		}
	})
}

func TestGetBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	data := []byte("downloadable")
	if _, err := f.service.Create(ctx, alice, masterRef,
		Input{ID: "doc", ContentType: "text/plain"}, data); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, artifact, err := f.service.GetBlob(ctx, alice, masterRef, "doc", GetOptions{})
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if string(got) != string(data) {
		t.Error("blob bytes differ")
	}
	if artifact.ContentType != "text/plain" {
		t.Errorf("unexpected content type: %s", artifact.ContentType)
	}

	if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "bare"}, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, _, err := f.service.GetBlob(ctx, alice, masterRef, "bare", GetOptions{}); !errs.IsNotFound(err) {
		t.Errorf("expected NotFoundError for metadata-only artifact, got %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by filename and custom prefix", func(t *testing.T) {
		f := newFixture(t)
		for _, in := range []Input{
			{ID: "a1", Filename: "specs.pdf", Custom: map[string]string{"team": "avionics"}},
			{ID: "a2", Filename: "specs.pdf", Custom: map[string]string{"team": "ground"}},
			{ID: "a3", Filename: "notes.txt", Custom: map[string]string{"team": "avionics"}},
		} {
			if _, err := f.service.Create(ctx, alice, masterRef, in, nil); err != nil {
				t.Fatalf("Create %s failed: %v", in.ID, err)
			}
		}

		got, err := f.service.List(ctx, alice, masterRef,
			storage.ArtifactFilter{Filename: "specs.pdf", Custom: map[string]string{"team": "avi"}},
			storage.Page{}, GetOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "acme:rover:master:a1" {
			t.Errorf("unexpected results: %+v", got)
		}
	})

	t.Run("archived artifacts hidden by default", func(t *testing.T) {
		f := newFixture(t)
		for _, id := range []string{"live", "dead"} {
			if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: id}, nil); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}
		artifact, _ := f.store.GetArtifact(ctx, "acme:rover:master:dead")
		artifact.Archive("alice", time.Now())
		if err := f.store.UpdateArtifact(ctx, artifact); err != nil {
			t.Fatalf("archive failed: %v", err)
		}

		got, err := f.service.List(ctx, alice, masterRef,
			storage.ArtifactFilter{}, storage.Page{}, GetOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "acme:rover:master:live" {
			t.Errorf("expected only the live artifact, got %+v", got)
		}

		all, err := f.service.List(ctx, alice, masterRef,
			storage.ArtifactFilter{}, storage.Page{}, GetOptions{IncludeArchived: true})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected both artifacts with IncludeArchived, got %d", len(all))
		}
	})

	t.Run("large unbounded listing is fetched in batches", func(t *testing.T) {
		f := newFixture(t)
		f.service.WithBatching(4, 2)

		for _, id := range []string{"b1", "b2", "b3", "b4", "b5", "b6"} {
			if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: id}, nil); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		got, err := f.service.List(ctx, alice, masterRef,
			storage.ArtifactFilter{}, storage.Page{}, GetOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 6 {
			t.Errorf("expected all 6 artifacts across batches, got %d", len(got))
		}
	})

	t.Run("cancellation between batches aborts with OperationError", func(t *testing.T) {
		f := newFixture(t)
		f.service.WithBatching(1, 1)

		for _, id := range []string{"c1", "c2", "c3"} {
			if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: id}, nil); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.service.listBatched(cancelled, "acme:rover:master", storage.ArtifactFilter{}, 0, 3)
		if !errs.IsOperation(err) {
			t.Errorf("expected OperationError on cancellation, got %v", err)
		}
	})
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, event string, _ interface{}) {
	r.events = append(r.events, event)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.service.WithNotifier(notifier)

	if _, err := f.service.Create(ctx, alice, masterRef, Input{ID: "doc"}, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.service.Update(ctx, alice, masterRef, "doc", Patch{}, []byte("v2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := f.service.Remove(ctx, alice, masterRef, "doc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	want := []string{EventArtifactCreated, EventArtifactUpdated, EventArtifactDeleted}
	if len(notifier.events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), notifier.events)
	}
	for i, event := range want {
		if notifier.events[i] != event {
			t.Errorf("event %d: expected %s, got %s", i, event, notifier.events[i])
		}
	}
}

package hierarchy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage/memory"
)

func seedChain(t *testing.T) (*memory.Store, *Validator) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	org := &registry.Organization{Meta: registry.NewMeta("acme", "alice", now), Name: "acme"}
	project := &registry.Project{Meta: registry.NewMeta("acme:rover", "alice", now), Name: "rover"}
	branch := &registry.Branch{Meta: registry.NewMeta("acme:rover:master", "alice", now), Name: "master"}

	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := store.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("seed branch: %v", err)
	}
	return store, NewValidator(store)
}

func TestValidateChain(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the full chain", func(t *testing.T) {
		_, validator := seedChain(t)
		chain, err := validator.ValidateChain(ctx,
			ChainRef{Org: "acme", Project: "rover", Branch: "master"}, Options{})
		if err != nil {
			t.Fatalf("ValidateChain failed: %v", err)
		}
		if chain.Org.ID != "acme" || chain.Project.ID != "acme:rover" || chain.Branch.ID != "acme:rover:master" {
			t.Errorf("unexpected chain: %+v", chain)
		}
	})

	t.Run("org-only reference resolves without project", func(t *testing.T) {
		_, validator := seedChain(t)
		chain, err := validator.ValidateChain(ctx, ChainRef{Org: "acme"}, Options{})
		if err != nil {
			t.Fatalf("ValidateChain failed: %v", err)
		}
		if chain.Project != nil || chain.Branch != nil {
			t.Error("expected nil project and branch")
		}
	})

	t.Run("missing org fails with NotFoundError", func(t *testing.T) {
		_, validator := seedChain(t)
		_, err := validator.ValidateChain(ctx, ChainRef{Org: "ghost"}, Options{})
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("missing project fails with NotFoundError", func(t *testing.T) {
		_, validator := seedChain(t)
		_, err := validator.ValidateChain(ctx, ChainRef{Org: "acme", Project: "ghost"}, Options{})
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("archived project blocks the walk and is named", func(t *testing.T) {
		store, validator := seedChain(t)
		project, _ := store.GetProject(ctx, "acme:rover")
		project.Archive("alice", time.Now())
		if err := store.UpdateProject(ctx, project); err != nil {
			t.Fatalf("archive project: %v", err)
		}

		_, err := validator.ValidateChain(ctx,
			ChainRef{Org: "acme", Project: "rover", Branch: "master"}, Options{})
		if !errs.IsArchived(err) {
			t.Fatalf("expected ArchivedError, got %v", err)
		}
		var archived *errs.ArchivedError
		if !errors.As(err, &archived) || archived.Resource != "acme:rover" {
			t.Errorf("error should name the archived project, got %v", err)
		}
	})

	t.Run("allowArchived returns the chain including archived records", func(t *testing.T) {
		store, validator := seedChain(t)
		project, _ := store.GetProject(ctx, "acme:rover")
		project.Archive("alice", time.Now())
		if err := store.UpdateProject(ctx, project); err != nil {
			t.Fatalf("archive project: %v", err)
		}

		chain, err := validator.ValidateChain(ctx,
			ChainRef{Org: "acme", Project: "rover", Branch: "master"},
			Options{AllowArchived: true})
		if err != nil {
			t.Fatalf("ValidateChain failed: %v", err)
		}
		if !chain.Project.Archived() {
			t.Error("expected the archived project record in the chain")
		}
	})

	t.Run("branch without project is malformed", func(t *testing.T) {
		_, validator := seedChain(t)
		_, err := validator.ValidateChain(ctx, ChainRef{Org: "acme", Branch: "master"}, Options{})
		if !errs.IsDataFormat(err) {
			t.Errorf("expected DataFormatError, got %v", err)
		}
	})

	t.Run("empty org is malformed", func(t *testing.T) {
		_, validator := seedChain(t)
		_, err := validator.ValidateChain(ctx, ChainRef{}, Options{})
		if !errs.IsDataFormat(err) {
			t.Errorf("expected DataFormatError, got %v", err)
		}
	})
}

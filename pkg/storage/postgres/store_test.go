package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestGetOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored document", func(t *testing.T) {
		store, mock := newMockStore(t)
		org := &registry.Organization{
			Meta: registry.NewMeta("acme", "alice", time.Now().UTC()),
			Name: "acme",
		}
		doc, _ := json.Marshal(org)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM documents WHERE kind = $1 AND id = $2`)).
			WithArgs(kindOrganization, "acme").
			WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

		got, err := store.GetOrganization(ctx, "acme")
		if err != nil {
			t.Fatalf("GetOrganization failed: %v", err)
		}
		if got.Name != "acme" || got.CreatedBy != "alice" {
			t.Errorf("unexpected document: %+v", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("missing row maps to NotFoundError", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM documents`)).
			WithArgs(kindOrganization, "ghost").
			WillReturnRows(sqlmock.NewRows([]string{"doc"}))

		_, err := store.GetOrganization(ctx, "ghost")
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("driver failure wraps as OperationError", func(t *testing.T) {
		store, mock := newMockStore(t)
		driverErr := errors.New("connection reset")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM documents`)).
			WillReturnError(driverErr)

		_, err := store.GetOrganization(ctx, "acme")
		if !errs.IsOperation(err) {
			t.Errorf("expected OperationError, got %v", err)
		}
		if !errors.Is(err, driverErr) {
			t.Error("expected underlying cause to be preserved")
		}
	})
}

func TestCreateOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate id is an OperationError", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		org := &registry.Organization{Meta: registry.NewMeta("acme", "alice", time.Now()), Name: "acme"}
		err := store.CreateOrganization(ctx, org)
		if !errs.IsOperation(err) {
			t.Errorf("expected OperationError for duplicate, got %v", err)
		}
	})

	t.Run("new id succeeds", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		org := &registry.Organization{Meta: registry.NewMeta("acme", "alice", time.Now()), Name: "acme"}
		if err := store.CreateOrganization(ctx, org); err != nil {
			t.Errorf("CreateOrganization failed: %v", err)
		}
	})
}

func TestDeleteArtifact(t *testing.T) {
	ctx := context.Background()

	t.Run("missing artifact maps to NotFoundError", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE kind = $1 AND id = $2`)).
			WithArgs(kindArtifact, "acme:rover:master:a1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.DeleteArtifact(ctx, "acme:rover:master:a1")
		if !errs.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})
}

func TestCountHashReferences(t *testing.T) {
	ctx := context.Background()

	t.Run("counts history entries referencing the hash", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).
			WithArgs(kindArtifact, "abc123").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		count, err := store.CountHashReferences(ctx, "abc123")
		if err != nil {
			t.Fatalf("CountHashReferences failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3, got %d", count)
		}
	})

	t.Run("empty hash is a caller bug", func(t *testing.T) {
		store, _ := newMockStore(t)
		_, err := store.CountHashReferences(ctx, "")
		if !errs.IsDataFormat(err) {
			t.Errorf("expected DataFormatError, got %v", err)
		}
	})
}

func TestListArtifactsQueryShape(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	artifact := &registry.Artifact{
		Meta:        registry.NewMeta("acme:rover:master:a1", "alice", time.Now().UTC()),
		Filename:    "report.pdf",
		ContentType: "application/pdf",
	}
	doc, _ := json.Marshal(artifact)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM documents WHERE kind = $1 AND branch_id = $2 AND filename = $3 ORDER BY id LIMIT $4`)).
		WithArgs(kindArtifact, "acme:rover:master", "report.pdf", 10).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := store.ListArtifacts(ctx, "acme:rover:master",
		storage.ArtifactFilter{Filename: "report.pdf"}, storage.Page{Limit: 10})
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "report.pdf" {
		t.Errorf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

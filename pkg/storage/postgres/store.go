// Package postgres provides a MetadataStore backed by PostgreSQL. Records
// are stored as JSONB documents in a single table, with the columns used by
// search filters promoted for indexing.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // postgres driver

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

const (
	kindOrganization = "organization"
	kindProject      = "project"
	kindBranch       = "branch"
	kindArtifact     = "artifact"
)

// Store implements storage.MetadataStore over a *sql.DB.
type Store struct {
	db *sql.DB
}

// NewStore creates a postgres-backed metadata store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to postgres and applies the schema.
func Open(ctx context.Context, url string, maxConns int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to open postgres connection")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.WrapOperation(err, "failed to ping postgres")
	}
	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Migrate creates the documents table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS documents (
			kind         TEXT NOT NULL,
			id           TEXT NOT NULL,
			branch_id    TEXT NOT NULL DEFAULT '',
			parent_id    TEXT NOT NULL DEFAULT '',
			filename     TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			doc          JSONB NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (kind, parent_id);
		CREATE INDEX IF NOT EXISTS documents_branch_idx ON documents (kind, branch_id);
	`
	_, err := s.db.ExecContext(ctx, query)
	return errs.WrapOperation(err, "failed to apply schema")
}

func (s *Store) create(ctx context.Context, kind, id, branchID, parentID, filename, contentType string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errs.WrapOperation(err, "failed to marshal %s", id)
	}
	query := `
		INSERT INTO documents (kind, id, branch_id, parent_id, filename, content_type, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, kind, id, branchID, parentID, filename, contentType, data)
	if err != nil {
		return errs.WrapOperation(err, "failed to insert %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.WrapOperation(err, "failed to read insert result for %s", id)
	}
	if rows == 0 {
		return errs.NewOperation("%s %s already exists", kind, id)
	}
	return nil
}

func (s *Store) get(ctx context.Context, kind, id string, doc interface{}) error {
	var data []byte
	query := `SELECT doc FROM documents WHERE kind = $1 AND id = $2`
	err := s.db.QueryRowContext(ctx, query, kind, id).Scan(&data)
	if err == sql.ErrNoRows {
		return errs.NewNotFound(id)
	}
	if err != nil {
		return errs.WrapOperation(err, "failed to query %s", id)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return errs.WrapOperation(err, "failed to unmarshal %s", id)
	}
	return nil
}

func (s *Store) update(ctx context.Context, kind, id, filename, contentType string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errs.WrapOperation(err, "failed to marshal %s", id)
	}
	query := `UPDATE documents SET doc = $3, filename = $4, content_type = $5 WHERE kind = $1 AND id = $2`
	result, err := s.db.ExecContext(ctx, query, kind, id, data, filename, contentType)
	if err != nil {
		return errs.WrapOperation(err, "failed to update %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.WrapOperation(err, "failed to read update result for %s", id)
	}
	if rows == 0 {
		return errs.NewNotFound(id)
	}
	return nil
}

func (s *Store) listByParent(ctx context.Context, kind, parentID string) ([][]byte, error) {
	query := `SELECT doc FROM documents WHERE kind = $1 AND parent_id = $2 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, kind, parentID)
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to list %ss under %s", kind, parentID)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.WrapOperation(err, "failed to scan %s row", kind)
		}
		docs = append(docs, data)
	}
	return docs, errs.WrapOperation(rows.Err(), "failed to iterate %s rows", kind)
}

// CreateOrganization implements storage.MetadataStore.
func (s *Store) CreateOrganization(ctx context.Context, org *registry.Organization) error {
	return s.create(ctx, kindOrganization, org.ID, "", "", "", "", org)
}

// GetOrganization implements storage.MetadataStore.
func (s *Store) GetOrganization(ctx context.Context, id string) (*registry.Organization, error) {
	var org registry.Organization
	if err := s.get(ctx, kindOrganization, id, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// UpdateOrganization implements storage.MetadataStore.
func (s *Store) UpdateOrganization(ctx context.Context, org *registry.Organization) error {
	return s.update(ctx, kindOrganization, org.ID, "", "", org)
}

// ListOrganizations implements storage.MetadataStore.
func (s *Store) ListOrganizations(ctx context.Context) ([]*registry.Organization, error) {
	docs, err := s.listByParent(ctx, kindOrganization, "")
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Organization, 0, len(docs))
	for _, data := range docs {
		var org registry.Organization
		if err := json.Unmarshal(data, &org); err != nil {
			return nil, errs.WrapOperation(err, "failed to unmarshal organization")
		}
		out = append(out, &org)
	}
	return out, nil
}

// CreateProject implements storage.MetadataStore.
func (s *Store) CreateProject(ctx context.Context, project *registry.Project) error {
	return s.create(ctx, kindProject, project.ID, "", project.ParentOrgID(), "", "", project)
}

// GetProject implements storage.MetadataStore.
func (s *Store) GetProject(ctx context.Context, id string) (*registry.Project, error) {
	var project registry.Project
	if err := s.get(ctx, kindProject, id, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateProject implements storage.MetadataStore.
func (s *Store) UpdateProject(ctx context.Context, project *registry.Project) error {
	return s.update(ctx, kindProject, project.ID, "", "", project)
}

// ListProjects implements storage.MetadataStore.
func (s *Store) ListProjects(ctx context.Context, orgID string) ([]*registry.Project, error) {
	docs, err := s.listByParent(ctx, kindProject, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Project, 0, len(docs))
	for _, data := range docs {
		var project registry.Project
		if err := json.Unmarshal(data, &project); err != nil {
			return nil, errs.WrapOperation(err, "failed to unmarshal project")
		}
		out = append(out, &project)
	}
	return out, nil
}

// CreateBranch implements storage.MetadataStore.
func (s *Store) CreateBranch(ctx context.Context, branch *registry.Branch) error {
	parentID := strings.Join(strings.Split(branch.ID, ":")[:2], ":")
	return s.create(ctx, kindBranch, branch.ID, "", parentID, "", "", branch)
}

// GetBranch implements storage.MetadataStore.
func (s *Store) GetBranch(ctx context.Context, id string) (*registry.Branch, error) {
	var branch registry.Branch
	if err := s.get(ctx, kindBranch, id, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// UpdateBranch implements storage.MetadataStore.
func (s *Store) UpdateBranch(ctx context.Context, branch *registry.Branch) error {
	return s.update(ctx, kindBranch, branch.ID, "", "", branch)
}

// ListBranches implements storage.MetadataStore.
func (s *Store) ListBranches(ctx context.Context, projectID string) ([]*registry.Branch, error) {
	docs, err := s.listByParent(ctx, kindBranch, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Branch, 0, len(docs))
	for _, data := range docs {
		var branch registry.Branch
		if err := json.Unmarshal(data, &branch); err != nil {
			return nil, errs.WrapOperation(err, "failed to unmarshal branch")
		}
		out = append(out, &branch)
	}
	return out, nil
}

// CreateArtifact implements storage.MetadataStore.
func (s *Store) CreateArtifact(ctx context.Context, artifact *registry.Artifact) error {
	return s.create(ctx, kindArtifact, artifact.ID, artifact.BranchID(), artifact.ProjectID(), artifact.Filename, artifact.ContentType, artifact)
}

// GetArtifact implements storage.MetadataStore.
func (s *Store) GetArtifact(ctx context.Context, id string) (*registry.Artifact, error) {
	var artifact registry.Artifact
	if err := s.get(ctx, kindArtifact, id, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// UpdateArtifact implements storage.MetadataStore.
func (s *Store) UpdateArtifact(ctx context.Context, artifact *registry.Artifact) error {
	return s.update(ctx, kindArtifact, artifact.ID, artifact.Filename, artifact.ContentType, artifact)
}

// DeleteArtifact implements storage.MetadataStore.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	query := `DELETE FROM documents WHERE kind = $1 AND id = $2`
	result, err := s.db.ExecContext(ctx, query, kindArtifact, id)
	if err != nil {
		return errs.WrapOperation(err, "failed to delete %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errs.WrapOperation(err, "failed to read delete result for %s", id)
	}
	if rows == 0 {
		return errs.NewNotFound(id)
	}
	return nil
}

// artifactWhere builds the WHERE clause and args for an artifact search.
func artifactWhere(branchID string, filter storage.ArtifactFilter) (string, []interface{}) {
	clauses := []string{"kind = $1"}
	args := []interface{}{kindArtifact}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if branchID != "" {
		clauses = append(clauses, "branch_id = "+arg(branchID))
	}
	if filter.Filename != "" {
		clauses = append(clauses, "filename = "+arg(filter.Filename))
	}
	if filter.ContentType != "" {
		clauses = append(clauses, "content_type = "+arg(filter.ContentType))
	}
	for key, prefix := range filter.Custom {
		clauses = append(clauses, fmt.Sprintf("doc->'custom'->>%s LIKE %s", arg(key), arg(prefix+"%")))
	}
	return strings.Join(clauses, " AND "), args
}

// ListArtifacts implements storage.MetadataStore.
func (s *Store) ListArtifacts(ctx context.Context, branchID string, filter storage.ArtifactFilter, page storage.Page) ([]*registry.Artifact, error) {
	where, args := artifactWhere(branchID, filter)
	query := `SELECT doc FROM documents WHERE ` + where + ` ORDER BY id`
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Skip > 0 {
		args = append(args, page.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to search artifacts")
	}
	defer rows.Close()

	var out []*registry.Artifact
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.WrapOperation(err, "failed to scan artifact row")
		}
		var artifact registry.Artifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return nil, errs.WrapOperation(err, "failed to unmarshal artifact")
		}
		out = append(out, &artifact)
	}
	return out, errs.WrapOperation(rows.Err(), "failed to iterate artifact rows")
}

// CountArtifacts implements storage.MetadataStore.
func (s *Store) CountArtifacts(ctx context.Context, branchID string, filter storage.ArtifactFilter) (int, error) {
	where, args := artifactWhere(branchID, filter)
	query := `SELECT COUNT(*) FROM documents WHERE ` + where

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errs.WrapOperation(err, "failed to count artifacts")
	}
	return count, nil
}

// CountHashReferences implements storage.MetadataStore.
func (s *Store) CountHashReferences(ctx context.Context, hash string) (int, error) {
	if hash == "" {
		return 0, errs.NewDataFormat("hash must not be empty")
	}
	query := `
		SELECT COUNT(*)
		FROM documents, jsonb_array_elements(doc->'history') AS entry
		WHERE kind = $1 AND entry->>'hash' = $2
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, kindArtifact, hash).Scan(&count); err != nil {
		return 0, errs.WrapOperation(err, "failed to count references for %s", hash)
	}
	return count, nil
}

// HealthCheck implements storage.MetadataStore.
func (s *Store) HealthCheck(ctx context.Context) error {
	return errs.WrapOperation(s.db.PingContext(ctx), "postgres unavailable")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

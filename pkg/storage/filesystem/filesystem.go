// Package filesystem provides a MetadataStore that persists each record as
// a JSON document under <root>/<kind>/<id>.json.
package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/ident"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

const (
	kindOrganization = "organizations"
	kindProject      = "projects"
	kindBranch       = "branches"
	kindArtifact     = "artifacts"
)

// Store implements storage.MetadataStore on the local filesystem.
type Store struct {
	rootDir string
}

// NewStore creates a filesystem-backed metadata store rooted at rootDir.
func NewStore(rootDir string) (*Store, error) {
	for _, kind := range []string{kindOrganization, kindProject, kindBranch, kindArtifact} {
		if err := os.MkdirAll(filepath.Join(rootDir, kind), 0755); err != nil {
			return nil, errs.WrapOperation(err, "failed to create %s directory", kind)
		}
	}
	return &Store{rootDir: rootDir}, nil
}

func (s *Store) docPath(kind, id string) string {
	return filepath.Join(s.rootDir, kind, id+".json")
}

func (s *Store) write(kind, id string, doc interface{}, mustExist, mustNotExist bool) error {
	path := s.docPath(kind, id)
	if mustExist || mustNotExist {
		_, err := os.Stat(path)
		switch {
		case mustNotExist && err == nil:
			return errs.NewOperation("%s already exists", id)
		case mustExist && os.IsNotExist(err):
			return errs.NewNotFound(id)
		case err != nil && !os.IsNotExist(err):
			return errs.WrapOperation(err, "failed to stat %s", id)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return errs.WrapOperation(err, "failed to marshal %s", id)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.WrapOperation(err, "failed to write %s", id)
	}
	return nil
}

func (s *Store) read(kind, id string, doc interface{}) error {
	data, err := os.ReadFile(s.docPath(kind, id))
	if os.IsNotExist(err) {
		return errs.NewNotFound(id)
	}
	if err != nil {
		return errs.WrapOperation(err, "failed to read %s", id)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return errs.WrapOperation(err, "failed to unmarshal %s", id)
	}
	return nil
}

func (s *Store) listIDs(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.rootDir, kind))
	if err != nil {
		return nil, errs.WrapOperation(err, "failed to read %s directory", kind)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateOrganization implements storage.MetadataStore.
func (s *Store) CreateOrganization(_ context.Context, org *registry.Organization) error {
	return s.write(kindOrganization, org.ID, org, false, true)
}

// GetOrganization implements storage.MetadataStore.
func (s *Store) GetOrganization(_ context.Context, id string) (*registry.Organization, error) {
	var org registry.Organization
	if err := s.read(kindOrganization, id, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// UpdateOrganization implements storage.MetadataStore.
func (s *Store) UpdateOrganization(_ context.Context, org *registry.Organization) error {
	return s.write(kindOrganization, org.ID, org, true, false)
}

// ListOrganizations implements storage.MetadataStore.
func (s *Store) ListOrganizations(ctx context.Context) ([]*registry.Organization, error) {
	ids, err := s.listIDs(kindOrganization)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Organization, 0, len(ids))
	for _, id := range ids {
		org, err := s.GetOrganization(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

// CreateProject implements storage.MetadataStore.
func (s *Store) CreateProject(_ context.Context, project *registry.Project) error {
	return s.write(kindProject, project.ID, project, false, true)
}

// GetProject implements storage.MetadataStore.
func (s *Store) GetProject(_ context.Context, id string) (*registry.Project, error) {
	var project registry.Project
	if err := s.read(kindProject, id, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateProject implements storage.MetadataStore.
func (s *Store) UpdateProject(_ context.Context, project *registry.Project) error {
	return s.write(kindProject, project.ID, project, true, false)
}

// ListProjects implements storage.MetadataStore.
func (s *Store) ListProjects(ctx context.Context, orgID string) ([]*registry.Project, error) {
	ids, err := s.listIDs(kindProject)
	if err != nil {
		return nil, err
	}
	var out []*registry.Project
	for _, id := range ids {
		if ident.OrgID(id) != orgID {
			continue
		}
		project, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, nil
}

// CreateBranch implements storage.MetadataStore.
func (s *Store) CreateBranch(_ context.Context, branch *registry.Branch) error {
	return s.write(kindBranch, branch.ID, branch, false, true)
}

// GetBranch implements storage.MetadataStore.
func (s *Store) GetBranch(_ context.Context, id string) (*registry.Branch, error) {
	var branch registry.Branch
	if err := s.read(kindBranch, id, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// UpdateBranch implements storage.MetadataStore.
func (s *Store) UpdateBranch(_ context.Context, branch *registry.Branch) error {
	return s.write(kindBranch, branch.ID, branch, true, false)
}

// ListBranches implements storage.MetadataStore.
func (s *Store) ListBranches(ctx context.Context, projectID string) ([]*registry.Branch, error) {
	ids, err := s.listIDs(kindBranch)
	if err != nil {
		return nil, err
	}
	var out []*registry.Branch
	for _, id := range ids {
		if ident.ProjectID(id) != projectID {
			continue
		}
		branch, err := s.GetBranch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, branch)
	}
	return out, nil
}

// CreateArtifact implements storage.MetadataStore.
func (s *Store) CreateArtifact(_ context.Context, artifact *registry.Artifact) error {
	return s.write(kindArtifact, artifact.ID, artifact, false, true)
}

// GetArtifact implements storage.MetadataStore.
func (s *Store) GetArtifact(_ context.Context, id string) (*registry.Artifact, error) {
	var artifact registry.Artifact
	if err := s.read(kindArtifact, id, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// UpdateArtifact implements storage.MetadataStore.
func (s *Store) UpdateArtifact(_ context.Context, artifact *registry.Artifact) error {
	return s.write(kindArtifact, artifact.ID, artifact, true, false)
}

// DeleteArtifact implements storage.MetadataStore.
func (s *Store) DeleteArtifact(_ context.Context, id string) error {
	err := os.Remove(s.docPath(kindArtifact, id))
	if os.IsNotExist(err) {
		return errs.NewNotFound(id)
	}
	return errs.WrapOperation(err, "failed to delete %s", id)
}

// ListArtifacts implements storage.MetadataStore.
func (s *Store) ListArtifacts(ctx context.Context, branchID string, filter storage.ArtifactFilter, page storage.Page) ([]*registry.Artifact, error) {
	ids, err := s.listIDs(kindArtifact)
	if err != nil {
		return nil, err
	}
	var matched []*registry.Artifact
	for _, id := range ids {
		if branchID != "" && ident.BranchID(id) != branchID {
			continue
		}
		artifact, err := s.GetArtifact(ctx, id)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(artifact) {
			continue
		}
		matched = append(matched, artifact)
	}

	if page.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Skip:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// CountArtifacts implements storage.MetadataStore.
func (s *Store) CountArtifacts(ctx context.Context, branchID string, filter storage.ArtifactFilter) (int, error) {
	matched, err := s.ListArtifacts(ctx, branchID, filter, storage.Page{})
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// CountHashReferences implements storage.MetadataStore.
func (s *Store) CountHashReferences(ctx context.Context, hash string) (int, error) {
	if hash == "" {
		return 0, errs.NewDataFormat("hash must not be empty")
	}
	artifacts, err := s.ListArtifacts(ctx, "", storage.ArtifactFilter{}, storage.Page{})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, artifact := range artifacts {
		for _, entry := range artifact.History {
			if entry.Hash != nil && strings.EqualFold(*entry.Hash, hash) {
				count++
			}
		}
	}
	return count, nil
}

// HealthCheck implements storage.MetadataStore.
func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return errs.WrapOperation(err, "metadata root unavailable")
	}
	return nil
}

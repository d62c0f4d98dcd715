// Package memory provides a map-backed MetadataStore used in tests and
// single-process development setups.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/ident"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

// Store implements storage.MetadataStore in process memory. All returned
// records are defensive copies; mutations only take effect through Update.
type Store struct {
	mu        sync.RWMutex
	orgs      map[string]*registry.Organization
	projects  map[string]*registry.Project
	branches  map[string]*registry.Branch
	artifacts map[string]*registry.Artifact
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orgs:      make(map[string]*registry.Organization),
		projects:  make(map[string]*registry.Project),
		branches:  make(map[string]*registry.Branch),
		artifacts: make(map[string]*registry.Artifact),
	}
}

func cloneMeta(m registry.Meta) registry.Meta {
	perms := make(map[string][]auth.Level, len(m.Permissions))
	for user, levels := range m.Permissions {
		perms[user] = append([]auth.Level(nil), levels...)
	}
	m.Permissions = perms
	if m.Lifecycle.ArchivedOn != nil {
		ts := *m.Lifecycle.ArchivedOn
		m.Lifecycle.ArchivedOn = &ts
	}
	return m
}

func cloneOrg(o *registry.Organization) *registry.Organization {
	out := *o
	out.Meta = cloneMeta(o.Meta)
	return &out
}

func cloneProject(p *registry.Project) *registry.Project {
	out := *p
	out.Meta = cloneMeta(p.Meta)
	return &out
}

func cloneBranch(b *registry.Branch) *registry.Branch {
	out := *b
	out.Meta = cloneMeta(b.Meta)
	return &out
}

func cloneArtifact(a *registry.Artifact) *registry.Artifact {
	out := *a
	out.Meta = cloneMeta(a.Meta)
	out.Custom = make(map[string]string, len(a.Custom))
	for k, v := range a.Custom {
		out.Custom[k] = v
	}
	out.History = make([]registry.HistoryEntry, len(a.History))
	for i, entry := range a.History {
		out.History[i] = entry
		if entry.Hash != nil {
			hash := *entry.Hash
			out.History[i].Hash = &hash
		}
	}
	return &out
}

// CreateOrganization implements storage.MetadataStore.
func (s *Store) CreateOrganization(_ context.Context, org *registry.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgs[org.ID]; exists {
		return errs.NewOperation("organization %s already exists", org.ID)
	}
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

// GetOrganization implements storage.MetadataStore.
func (s *Store) GetOrganization(_ context.Context, id string) (*registry.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, errs.NewNotFound(id)
	}
	return cloneOrg(org), nil
}

// UpdateOrganization implements storage.MetadataStore.
func (s *Store) UpdateOrganization(_ context.Context, org *registry.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return errs.NewNotFound(org.ID)
	}
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

// ListOrganizations implements storage.MetadataStore.
func (s *Store) ListOrganizations(_ context.Context) ([]*registry.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*registry.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, cloneOrg(org))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateProject implements storage.MetadataStore.
func (s *Store) CreateProject(_ context.Context, project *registry.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return errs.NewOperation("project %s already exists", project.ID)
	}
	s.projects[project.ID] = cloneProject(project)
	return nil
}

// GetProject implements storage.MetadataStore.
func (s *Store) GetProject(_ context.Context, id string) (*registry.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, errs.NewNotFound(id)
	}
	return cloneProject(project), nil
}

// UpdateProject implements storage.MetadataStore.
func (s *Store) UpdateProject(_ context.Context, project *registry.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return errs.NewNotFound(project.ID)
	}
	s.projects[project.ID] = cloneProject(project)
	return nil
}

// ListProjects implements storage.MetadataStore.
func (s *Store) ListProjects(_ context.Context, orgID string) ([]*registry.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*registry.Project
	for _, project := range s.projects {
		if ident.OrgID(project.ID) == orgID {
			out = append(out, cloneProject(project))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateBranch implements storage.MetadataStore.
func (s *Store) CreateBranch(_ context.Context, branch *registry.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.branches[branch.ID]; exists {
		return errs.NewOperation("branch %s already exists", branch.ID)
	}
	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

// GetBranch implements storage.MetadataStore.
func (s *Store) GetBranch(_ context.Context, id string) (*registry.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[id]
	if !ok {
		return nil, errs.NewNotFound(id)
	}
	return cloneBranch(branch), nil
}

// UpdateBranch implements storage.MetadataStore.
func (s *Store) UpdateBranch(_ context.Context, branch *registry.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.ID]; !ok {
		return errs.NewNotFound(branch.ID)
	}
	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

// ListBranches implements storage.MetadataStore.
func (s *Store) ListBranches(_ context.Context, projectID string) ([]*registry.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*registry.Branch
	for _, branch := range s.branches {
		if ident.ProjectID(branch.ID) == projectID {
			out = append(out, cloneBranch(branch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateArtifact implements storage.MetadataStore.
func (s *Store) CreateArtifact(_ context.Context, artifact *registry.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[artifact.ID]; exists {
		return errs.NewOperation("artifact %s already exists", artifact.ID)
	}
	s.artifacts[artifact.ID] = cloneArtifact(artifact)
	return nil
}

// GetArtifact implements storage.MetadataStore.
func (s *Store) GetArtifact(_ context.Context, id string) (*registry.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[id]
	if !ok {
		return nil, errs.NewNotFound(id)
	}
	return cloneArtifact(artifact), nil
}

// UpdateArtifact implements storage.MetadataStore.
func (s *Store) UpdateArtifact(_ context.Context, artifact *registry.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[artifact.ID]; !ok {
		return errs.NewNotFound(artifact.ID)
	}
	s.artifacts[artifact.ID] = cloneArtifact(artifact)
	return nil
}

// DeleteArtifact implements storage.MetadataStore.
func (s *Store) DeleteArtifact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[id]; !ok {
		return errs.NewNotFound(id)
	}
	delete(s.artifacts, id)
	return nil
}

// ListArtifacts implements storage.MetadataStore.
func (s *Store) ListArtifacts(_ context.Context, branchID string, filter storage.ArtifactFilter, page storage.Page) ([]*registry.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*registry.Artifact
	for _, artifact := range s.artifacts {
		if branchID != "" && artifact.BranchID() != branchID {
			continue
		}
		if !filter.Matches(artifact) {
			continue
		}
		matched = append(matched, artifact)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if page.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Skip:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}

	out := make([]*registry.Artifact, len(matched))
	for i, artifact := range matched {
		out[i] = cloneArtifact(artifact)
	}
	return out, nil
}

// CountArtifacts implements storage.MetadataStore.
func (s *Store) CountArtifacts(_ context.Context, branchID string, filter storage.ArtifactFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, artifact := range s.artifacts {
		if branchID != "" && artifact.BranchID() != branchID {
			continue
		}
		if filter.Matches(artifact) {
			count++
		}
	}
	return count, nil
}

// CountHashReferences implements storage.MetadataStore.
func (s *Store) CountHashReferences(_ context.Context, hash string) (int, error) {
	if hash == "" {
		return 0, errs.NewDataFormat("hash must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, artifact := range s.artifacts {
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
	return nil
}

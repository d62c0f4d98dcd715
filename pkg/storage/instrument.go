package storage

import (
	"context"
	"time"

	"github.com/trovehq/trove/pkg/registry"
)

// Observer receives one measurement per store operation. Satisfied by
// observability.Metrics.
type Observer interface {
	ObserveStorage(operation, backend, status string, duration time.Duration)
}

// Instrument wraps a MetadataStore so every operation is observed with its
// name, backend label, outcome and latency.
func Instrument(store MetadataStore, backend string, obs Observer) MetadataStore {
	return &instrumentedStore{store: store, backend: backend, obs: obs}
}

type instrumentedStore struct {
	store   MetadataStore
	backend string
	obs     Observer
}

func (s *instrumentedStore) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.obs.ObserveStorage(operation, s.backend, status, time.Since(start))
}

func (s *instrumentedStore) CreateOrganization(ctx context.Context, org *registry.Organization) error {
	start := time.Now()
	err := s.store.CreateOrganization(ctx, org)
	s.observe("create_organization", start, err)
	return err
}

func (s *instrumentedStore) GetOrganization(ctx context.Context, id string) (*registry.Organization, error) {
	start := time.Now()
	org, err := s.store.GetOrganization(ctx, id)
	s.observe("get_organization", start, err)
	return org, err
}

func (s *instrumentedStore) UpdateOrganization(ctx context.Context, org *registry.Organization) error {
	start := time.Now()
	err := s.store.UpdateOrganization(ctx, org)
	s.observe("update_organization", start, err)
	return err
}

func (s *instrumentedStore) ListOrganizations(ctx context.Context) ([]*registry.Organization, error) {
	start := time.Now()
	orgs, err := s.store.ListOrganizations(ctx)
	s.observe("list_organizations", start, err)
	return orgs, err
}

func (s *instrumentedStore) CreateProject(ctx context.Context, project *registry.Project) error {
	start := time.Now()
	err := s.store.CreateProject(ctx, project)
	s.observe("create_project", start, err)
	return err
}

func (s *instrumentedStore) GetProject(ctx context.Context, id string) (*registry.Project, error) {
	start := time.Now()
	project, err := s.store.GetProject(ctx, id)
	s.observe("get_project", start, err)
	return project, err
}

func (s *instrumentedStore) UpdateProject(ctx context.Context, project *registry.Project) error {
	start := time.Now()
	err := s.store.UpdateProject(ctx, project)
	s.observe("update_project", start, err)
	return err
}

func (s *instrumentedStore) ListProjects(ctx context.Context, orgID string) ([]*registry.Project, error) {
	start := time.Now()
	projects, err := s.store.ListProjects(ctx, orgID)
	s.observe("list_projects", start, err)
	return projects, err
}

func (s *instrumentedStore) CreateBranch(ctx context.Context, branch *registry.Branch) error {
	start := time.Now()
	err := s.store.CreateBranch(ctx, branch)
	s.observe("create_branch", start, err)
	return err
}

func (s *instrumentedStore) GetBranch(ctx context.Context, id string) (*registry.Branch, error) {
	start := time.Now()
	branch, err := s.store.GetBranch(ctx, id)
	s.observe("get_branch", start, err)
	return branch, err
}

func (s *instrumentedStore) UpdateBranch(ctx context.Context, branch *registry.Branch) error {
	start := time.Now()
	err := s.store.UpdateBranch(ctx, branch)
	s.observe("update_branch", start, err)
	return err
}

func (s *instrumentedStore) ListBranches(ctx context.Context, projectID string) ([]*registry.Branch, error) {
	start := time.Now()
	branches, err := s.store.ListBranches(ctx, projectID)
	s.observe("list_branches", start, err)
	return branches, err
}

func (s *instrumentedStore) CreateArtifact(ctx context.Context, artifact *registry.Artifact) error {
	start := time.Now()
	err := s.store.CreateArtifact(ctx, artifact)
	s.observe("create_artifact", start, err)
	return err
}

func (s *instrumentedStore) GetArtifact(ctx context.Context, id string) (*registry.Artifact, error) {
	start := time.Now()
	artifact, err := s.store.GetArtifact(ctx, id)
	s.observe("get_artifact", start, err)
	return artifact, err
}

func (s *instrumentedStore) UpdateArtifact(ctx context.Context, artifact *registry.Artifact) error {
	start := time.Now()
	err := s.store.UpdateArtifact(ctx, artifact)
	s.observe("update_artifact", start, err)
	return err
}

func (s *instrumentedStore) DeleteArtifact(ctx context.Context, id string) error {
	start := time.Now()
	err := s.store.DeleteArtifact(ctx, id)
	s.observe("delete_artifact", start, err)
	return err
}

func (s *instrumentedStore) ListArtifacts(ctx context.Context, branchID string, filter ArtifactFilter, page Page) ([]*registry.Artifact, error) {
	start := time.Now()
	artifacts, err := s.store.ListArtifacts(ctx, branchID, filter, page)
	s.observe("list_artifacts", start, err)
	return artifacts, err
}

func (s *instrumentedStore) CountArtifacts(ctx context.Context, branchID string, filter ArtifactFilter) (int, error) {
	start := time.Now()
	count, err := s.store.CountArtifacts(ctx, branchID, filter)
	s.observe("count_artifacts", start, err)
	return count, err
}

func (s *instrumentedStore) CountHashReferences(ctx context.Context, hash string) (int, error) {
	start := time.Now()
	count, err := s.store.CountHashReferences(ctx, hash)
	s.observe("count_hash_references", start, err)
	return count, err
}

func (s *instrumentedStore) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

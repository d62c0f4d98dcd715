package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/ident"
)

// Event names emitted to the notifier after a lifecycle mutation commits.
const (
	EventOrgArchived     = "org.archived"
	EventProjectArchived = "project.archived"
)

// Notifier receives hierarchy lifecycle events. Implementations must not
// block the request path.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// HierarchyStore is the persistence surface for hierarchy resources. Every
// metadata store backend satisfies it.
type HierarchyStore interface {
	OrgGetter
	CreateOrganization(ctx context.Context, org *Organization) error
	UpdateOrganization(ctx context.Context, org *Organization) error
	ListOrganizations(ctx context.Context) ([]*Organization, error)

	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	ListProjects(ctx context.Context, orgID string) ([]*Project, error)

	CreateBranch(ctx context.Context, branch *Branch) error
	GetBranch(ctx context.Context, id string) (*Branch, error)
	UpdateBranch(ctx context.Context, branch *Branch) error
	ListBranches(ctx context.Context, projectID string) ([]*Branch, error)
}

// Service manages hierarchy resources: organizations, projects, and
// branches. Creation flows top down; archived ancestors block creation
// beneath them; permission edits require admin on the resource itself.
type Service struct {
	store    HierarchyStore
	resolver *Resolver
	notifier Notifier
	log      *slog.Logger
	clock    func() time.Time
}

// NewService creates the hierarchy service.
func NewService(store HierarchyStore, resolver *Resolver) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		log:      slog.Default(),
		clock:    time.Now,
	}
}

// WithNotifier attaches an event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithLogger replaces the default logger.
func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// CreateOrganization provisions a new tenant root. Restricted to global
// admins; the creator is granted admin on the record.
func (s *Service) CreateOrganization(ctx context.Context, principal auth.Principal, id, name string) (*Organization, error) {
	if !principal.IsGlobalAdmin {
		return nil, errs.NewPermission(id, auth.Admin.String())
	}
	if _, err := ident.Compose(id); err != nil {
		return nil, err
	}
	org := &Organization{Meta: NewMeta(id, principal.Username, s.clock()), Name: name}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization fetches an organization the principal can read.
func (s *Service) GetOrganization(ctx context.Context, principal auth.Principal, id string) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, org, auth.Read); err != nil {
		return nil, err
	}
	return org, nil
}

// ListOrganizations returns the organizations the principal can read.
func (s *Service) ListOrganizations(ctx context.Context, principal auth.Principal) ([]*Organization, error) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	visible := orgs[:0]
	for _, org := range orgs {
		level, err := s.resolver.Resolve(ctx, principal, org)
		if err != nil {
			return nil, err
		}
		if level.Covers(auth.Read) {
			visible = append(visible, org)
		}
	}
	return visible, nil
}

// CreateProject creates a project under an active organization. Requires
// write on the organization; the creator is granted admin on the project.
func (s *Service) CreateProject(ctx context.Context, principal auth.Principal, orgID, id, name string) (*Project, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.Archived() {
		return nil, errs.NewArchived(org.ID)
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, org, auth.Write); err != nil {
		return nil, err
	}

	projectID, err := ident.Compose(orgID, id)
	if err != nil {
		return nil, err
	}
	project := &Project{Meta: NewMeta(projectID, principal.Username, s.clock()), Name: name}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject fetches a project the principal can read.
func (s *Service) GetProject(ctx context.Context, principal auth.Principal, orgID, id string) (*Project, error) {
	projectID, err := ident.Compose(orgID, id)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, project, auth.Read); err != nil {
		return nil, err
	}
	return project, nil
}

// ListProjects returns the organization's projects the principal can read.
func (s *Service) ListProjects(ctx context.Context, principal auth.Principal, orgID string) ([]*Project, error) {
	projects, err := s.store.ListProjects(ctx, orgID)
	if err != nil {
		return nil, err
	}
	visible := projects[:0]
	for _, project := range projects {
		level, err := s.resolver.Resolve(ctx, principal, project)
		if err != nil {
			return nil, err
		}
		if level.Covers(auth.Read) {
			visible = append(visible, project)
		}
	}
	return visible, nil
}

// CreateBranch creates a branch under an active project. Requires write on
// the project. IsTag marks the branch read-only for artifact mutation from
// the moment it exists.
func (s *Service) CreateBranch(ctx context.Context, principal auth.Principal, orgID, projectID, id string, isTag bool) (*Branch, error) {
	fullProjectID, err := ident.Compose(orgID, projectID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, fullProjectID)
	if err != nil {
		return nil, err
	}
	if project.Archived() {
		return nil, errs.NewArchived(project.ID)
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, project, auth.Write); err != nil {
		return nil, err
	}

	branchID, err := ident.Compose(orgID, projectID, id)
	if err != nil {
		return nil, err
	}
	branch := &Branch{Meta: NewMeta(branchID, principal.Username, s.clock()), Name: id, IsTag: isTag}
	if err := s.store.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// GetBranch fetches a branch the principal can read.
func (s *Service) GetBranch(ctx context.Context, principal auth.Principal, orgID, projectID, id string) (*Branch, error) {
	branchID, err := ident.Compose(orgID, projectID, id)
	if err != nil {
		return nil, err
	}
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, branch, auth.Read); err != nil {
		return nil, err
	}
	return branch, nil
}

// ListBranches returns the project's branches the principal can read.
func (s *Service) ListBranches(ctx context.Context, principal auth.Principal, orgID, projectID string) ([]*Branch, error) {
	fullProjectID, err := ident.Compose(orgID, projectID)
	if err != nil {
		return nil, err
	}
	branches, err := s.store.ListBranches(ctx, fullProjectID)
	if err != nil {
		return nil, err
	}
	visible := branches[:0]
	for _, branch := range branches {
		level, err := s.resolver.Resolve(ctx, principal, branch)
		if err != nil {
			return nil, err
		}
		if level.Covers(auth.Read) {
			visible = append(visible, branch)
		}
	}
	return visible, nil
}

// SetPermission grants or revokes a user's levels on a resource. Requires
// admin on the resource. An empty level set removes the user's entry
// entirely so "no access" and "explicit empty grant" cannot diverge.
func (s *Service) SetPermission(ctx context.Context, principal auth.Principal, resource Resource, username string, levels []auth.Level) error {
	if username == "" {
		return errs.NewDataFormat("username is required")
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, resource, auth.Admin); err != nil {
		return err
	}

	meta := resource.ResourceMeta()
	meta.SetPermission(username, levels)
	meta.LastModifiedBy = principal.Username
	meta.UpdatedOn = s.clock()

	return s.persist(ctx, resource)
}

// ArchiveOrganization soft-deletes an organization. Requires admin.
func (s *Service) ArchiveOrganization(ctx context.Context, principal auth.Principal, id string) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, org, auth.Admin); err != nil {
		return nil, err
	}
	if org.Archived() {
		return nil, errs.NewArchived(org.ID)
	}
	org.Archive(principal.Username, s.clock())
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.notify(ctx, EventOrgArchived, org)
	return org, nil
}

// UnarchiveOrganization restores an archived organization. Requires admin.
func (s *Service) UnarchiveOrganization(ctx context.Context, principal auth.Principal, id string) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, org, auth.Admin); err != nil {
		return nil, err
	}
	org.Unarchive(principal.Username, s.clock())
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// ArchiveProject soft-deletes a project. Requires admin on the project.
func (s *Service) ArchiveProject(ctx context.Context, principal auth.Principal, orgID, id string) (*Project, error) {
	projectID, err := ident.Compose(orgID, id)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, project, auth.Admin); err != nil {
		return nil, err
	}
	if project.Archived() {
		return nil, errs.NewArchived(project.ID)
	}
	project.Archive(principal.Username, s.clock())
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	s.notify(ctx, EventProjectArchived, project)
	return project, nil
}

// UnarchiveProject restores an archived project. Requires admin.
func (s *Service) UnarchiveProject(ctx context.Context, principal auth.Principal, orgID, id string) (*Project, error) {
	projectID, err := ident.Compose(orgID, id)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, project, auth.Admin); err != nil {
		return nil, err
	}
	project.Unarchive(principal.Username, s.clock())
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Service) persist(ctx context.Context, resource Resource) error {
	switch r := resource.(type) {
	case *Organization:
		return s.store.UpdateOrganization(ctx, r)
	case *Project:
		return s.store.UpdateProject(ctx, r)
	case *Branch:
		return s.store.UpdateBranch(ctx, r)
	default:
		return errs.NewDataFormat("unknown resource type %T", resource)
	}
}

func (s *Service) notify(ctx context.Context, event string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event, payload)
}

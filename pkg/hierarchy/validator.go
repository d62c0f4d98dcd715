// Package hierarchy validates resource ancestry chains. Given an
// org/project/branch reference it verifies each ancestor exists and is not
// archived, returning the resolved records so callers avoid redundant
// fetches. It performs no permission checks; callers always compose it with
// the registry resolver.
package hierarchy

import (
	"context"

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/ident"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

// ChainRef names the levels of a hierarchy chain by their leaf components.
// Org is required; Project and Branch are optional but Branch requires
// Project.
type ChainRef struct {
	Org     string
	Project string
	Branch  string
}

// Options controls archived-record visibility during validation.
type Options struct {
	// AllowArchived lets the walk succeed through archived ancestors.
	AllowArchived bool
}

// Chain holds the resolved records of a validated ancestry chain. Project
// and Branch are nil when the reference did not include those levels.
type Chain struct {
	Org     *registry.Organization
	Project *registry.Project
	Branch  *registry.Branch
}

// Validator walks ancestry chains against the metadata store.
type Validator struct {
	store storage.MetadataStore
}

// NewValidator creates a validator over the given store.
func NewValidator(store storage.MetadataStore) *Validator {
	return &Validator{store: store}
}

// ValidateChain fetches and checks each level of the reference, top down.
// Missing records fail with NotFoundError; archived records fail with an
// ArchivedError naming the archived ancestor unless opts.AllowArchived is
// set. Lookups at each level are scoped by the validated parent: composite
// identifiers embed the full ancestry, so a project ID can never collide
// across organizations.
func (v *Validator) ValidateChain(ctx context.Context, ref ChainRef, opts Options) (*Chain, error) {
	if ref.Org == "" {
		return nil, errs.NewDataFormat("organization is required")
	}
	if ref.Branch != "" && ref.Project == "" {
		return nil, errs.NewDataFormat("branch reference requires a project")
	}

	chain := &Chain{}

	org, err := v.store.GetOrganization(ctx, ref.Org)
	if err != nil {
		return nil, err
	}
	if org.Archived() && !opts.AllowArchived {
		return nil, errs.NewArchived(org.ID)
	}
	chain.Org = org

	if ref.Project == "" {
		return chain, nil
	}

	projectID, err := ident.Compose(org.ID, ref.Project)
	if err != nil {
		return nil, err
	}
	project, err := v.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Archived() && !opts.AllowArchived {
		return nil, errs.NewArchived(project.ID)
	}
	chain.Project = project

	if ref.Branch == "" {
		return chain, nil
	}

	branchID, err := ident.Compose(org.ID, ref.Project, ref.Branch)
	if err != nil {
		return nil, err
	}
	branch, err := v.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.Archived() && !opts.AllowArchived {
		return nil, errs.NewArchived(branch.ID)
	}
	chain.Branch = branch

	return chain, nil
}

// Package artifacts orchestrates artifact lifecycle operations: hierarchy
// and permission gating, content-addressed blob writes, append-only version
// history, and reference-counted blob garbage collection.
package artifacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/blob"
	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/hierarchy"
	"github.com/trovehq/trove/pkg/ident"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage"
)

// Event names emitted to the notifier after a mutation commits.
const (
	EventArtifactCreated = "artifact.created"
	EventArtifactUpdated = "artifact.updated"
	EventArtifactDeleted = "artifact.deleted"
)

// Notifier receives domain events after the corresponding mutation has
// committed. Implementations must not block the request path.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{})
}

// Search batching bounds. An unbounded listing whose result count exceeds
// the threshold is fetched in sequential batches instead of one query.
const (
	DefaultBatchThreshold = 50000
	DefaultBatchSize      = 10000
)

// Input carries the caller-supplied fields for a new artifact.
type Input struct {
	// ID is the artifact's leaf identifier within its branch.
	ID          string
	Filename    string
	ContentType string
	Custom      map[string]string
}

// Patch carries partial updates for an existing artifact. Nil pointer
// fields are left unchanged; Custom entries are merged, with an empty value
// removing the key.
type Patch struct {
	Filename    *string
	ContentType *string
	Custom      map[string]string
}

// GetOptions controls archived-record visibility on read paths.
type GetOptions struct {
	IncludeArchived bool
}

// Service is the artifact orchestrator. Every operation validates the
// ancestry chain and the principal's permission before touching storage;
// mutating operations additionally reject tag branches.
type Service struct {
	store     storage.MetadataStore
	blobs     blob.Store
	validator *hierarchy.Validator
	resolver  *registry.Resolver
	notifier  Notifier
	log       *slog.Logger
	clock     func() time.Time

	batchThreshold int
	batchSize      int
}

// NewService creates the orchestrator over the given collaborators.
func NewService(store storage.MetadataStore, blobs blob.Store, validator *hierarchy.Validator, resolver *registry.Resolver) *Service {
	return &Service{
		store:          store,
		blobs:          blobs,
		validator:      validator,
		resolver:       resolver,
		log:            slog.Default(),
		clock:          time.Now,
		batchThreshold: DefaultBatchThreshold,
		batchSize:      DefaultBatchSize,
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

// WithBatching overrides the search batching bounds.
func (s *Service) WithBatching(threshold, size int) *Service {
	s.batchThreshold = threshold
	s.batchSize = size
	return s
}

// validateForWrite runs the shared gate for mutating operations: the full
// chain must exist and be active, the branch must not be a tag, and the
// principal needs at least Write on the owning project. The gate re-resolves
// on every call; results are never carried across requests.
func (s *Service) validateForWrite(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef) (*hierarchy.Chain, error) {
	if ref.Branch == "" {
		return nil, errs.NewDataFormat("artifact operations require a branch reference")
	}
	chain, err := s.validator.ValidateChain(ctx, ref, hierarchy.Options{})
	if err != nil {
		return nil, err
	}
	if chain.Branch.IsTag {
		return nil, errs.NewOperation("branch %s is a tag and cannot be modified", chain.Branch.ID)
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, chain.Project, auth.Write); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *Service) validateForRead(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, opts GetOptions) (*hierarchy.Chain, error) {
	if ref.Branch == "" {
		return nil, errs.NewDataFormat("artifact operations require a branch reference")
	}
	chain, err := s.validator.ValidateChain(ctx, ref, hierarchy.Options{AllowArchived: opts.IncludeArchived})
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireAtLeast(ctx, principal, chain.Project, auth.Read); err != nil {
		return nil, err
	}
	return chain, nil
}

// Create stores a new artifact with a single history entry. When blobBytes
// is nil the artifact is metadata-only and its history hash is nil. A blob
// written before a failed metadata commit is left orphaned on purpose: blob
// writes are content-addressed and shared, so rolling one back could destroy
// another artifact's data; the sweeper reclaims true orphans.
func (s *Service) Create(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, input Input, blobBytes []byte) (*registry.Artifact, error) {
	if _, err := s.validateForWrite(ctx, principal, ref); err != nil {
		return nil, err
	}

	id, err := ident.Compose(ref.Org, ref.Project, ref.Branch, input.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetArtifact(ctx, id); err == nil {
		return nil, errs.NewOperation("artifact %s already exists", id)
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	var hash *string
	if blobBytes != nil {
		h, err := s.blobs.Put(ctx, blobBytes)
		if err != nil {
			return nil, err
		}
		hash = &h
	}

	now := s.clock()
	artifact := &registry.Artifact{
		Meta:        registry.NewMeta(id, principal.Username, now),
		Filename:    input.Filename,
		ContentType: input.ContentType,
		Custom:      input.Custom,
		History: []registry.HistoryEntry{
			{Hash: hash, User: principal.Username, Timestamp: now},
		},
	}

	if err := s.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	s.notify(ctx, EventArtifactCreated, artifact)
	return artifact, nil
}

// Update patches metadata fields in place and, when blobBytes is supplied,
// stores the new blob and appends a history entry. Earlier history entries
// are never altered.
func (s *Service) Update(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, artifactID string, patch Patch, blobBytes []byte) (*registry.Artifact, error) {
	if _, err := s.validateForWrite(ctx, principal, ref); err != nil {
		return nil, err
	}

	id, err := ident.Compose(ref.Org, ref.Project, ref.Branch, artifactID)
	if err != nil {
		return nil, err
	}
	artifact, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact.Archived() {
		return nil, errs.NewArchived(artifact.ID)
	}

	if patch.Filename != nil {
		artifact.Filename = *patch.Filename
	}
	if patch.ContentType != nil {
		artifact.ContentType = *patch.ContentType
	}
	if len(patch.Custom) > 0 {
		if artifact.Custom == nil {
			artifact.Custom = make(map[string]string, len(patch.Custom))
		}
		for key, value := range patch.Custom {
			if value == "" {
				delete(artifact.Custom, key)
				continue
			}
			artifact.Custom[key] = value
		}
	}

	now := s.clock()
	if blobBytes != nil {
		h, err := s.blobs.Put(ctx, blobBytes)
		if err != nil {
			return nil, err
		}
		artifact.AppendHistory(&h, principal.Username, now)
	} else {
		artifact.LastModifiedBy = principal.Username
		artifact.UpdatedOn = now
	}

	if err := s.store.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	s.notify(ctx, EventArtifactUpdated, artifact)
	return artifact, nil
}

// Remove deletes the artifact's metadata record, then garbage-collects
// every blob its history referenced that no surviving artifact still
// references. The reference count runs against store state after the
// metadata delete commits, so a hash shared with another artifact is kept.
// Blob deletion failures do not fail the remove: the metadata is gone and
// the sweeper reclaims the leftover.
func (s *Service) Remove(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, artifactID string) error {
	if _, err := s.validateForWrite(ctx, principal, ref); err != nil {
		return err
	}

	id, err := ident.Compose(ref.Org, ref.Project, ref.Branch, artifactID)
	if err != nil {
		return err
	}
	artifact, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteArtifact(ctx, id); err != nil {
		return err
	}

	for _, hash := range artifact.DistinctHashes() {
		refs, err := s.store.CountHashReferences(ctx, hash)
		if err != nil {
			s.log.WarnContext(ctx, "blob reference count failed, leaving blob for sweeper",
				"hash", hash, "error", err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := s.blobs.Delete(ctx, hash); err != nil {
			s.log.WarnContext(ctx, "blob delete failed, leaving blob for sweeper",
				"hash", hash, "error", err)
		}
	}

	s.notify(ctx, EventArtifactDeleted, artifact)
	return nil
}

// Get fetches one artifact. Archived artifacts (or chains) are hidden
// unless opts.IncludeArchived is set.
func (s *Service) Get(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, artifactID string, opts GetOptions) (*registry.Artifact, error) {
	if _, err := s.validateForRead(ctx, principal, ref, opts); err != nil {
		return nil, err
	}

	id, err := ident.Compose(ref.Org, ref.Project, ref.Branch, artifactID)
	if err != nil {
		return nil, err
	}
	artifact, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact.Archived() && !opts.IncludeArchived {
		return nil, errs.NewArchived(artifact.ID)
	}
	return artifact, nil
}

// GetBlob fetches the current blob of an artifact, or NotFoundError for a
// metadata-only artifact.
func (s *Service) GetBlob(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, artifactID string, opts GetOptions) ([]byte, *registry.Artifact, error) {
	artifact, err := s.Get(ctx, principal, ref, artifactID, opts)
	if err != nil {
		return nil, nil, err
	}
	hash := artifact.CurrentHash()
	if hash == nil {
		return nil, nil, errs.NewNotFound(artifact.ID + " blob")
	}
	data, err := s.blobs.Get(ctx, *hash)
	if err != nil {
		return nil, nil, err
	}
	return data, artifact, nil
}

// List searches the branch's artifacts with the filter and page bounds.
// Unbounded listings whose total count exceeds the batch threshold are
// fetched in sequential bounded batches, checking for cancellation between
// batches; a mid-flight cancellation aborts with an OperationError rather
// than returning a silently truncated result.
func (s *Service) List(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, filter storage.ArtifactFilter, page storage.Page, opts GetOptions) ([]*registry.Artifact, error) {
	if _, err := s.validateForRead(ctx, principal, ref, opts); err != nil {
		return nil, err
	}
	branchID, err := ident.Compose(ref.Org, ref.Project, ref.Branch)
	if err != nil {
		return nil, err
	}

	var results []*registry.Artifact
	if page.Limit == 0 {
		total, err := s.store.CountArtifacts(ctx, branchID, filter)
		if err != nil {
			return nil, err
		}
		if total > s.batchThreshold {
			results, err = s.listBatched(ctx, branchID, filter, page.Skip, total)
		} else {
			results, err = s.store.ListArtifacts(ctx, branchID, filter, page)
		}
		if err != nil {
			return nil, err
		}
	} else {
		results, err = s.store.ListArtifacts(ctx, branchID, filter, page)
		if err != nil {
			return nil, err
		}
	}

	if opts.IncludeArchived {
		return results, nil
	}
	active := results[:0]
	for _, artifact := range results {
		if !artifact.Archived() {
			active = append(active, artifact)
		}
	}
	return active, nil
}

func (s *Service) listBatched(ctx context.Context, branchID string, filter storage.ArtifactFilter, skip, total int) ([]*registry.Artifact, error) {
	results := make([]*registry.Artifact, 0, total-skip)
	for offset := skip; offset < total; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errs.WrapOperation(err, "search aborted after %d of %d documents", len(results), total-skip)
		}
		batch, err := s.store.ListArtifacts(ctx, branchID, filter,
			storage.Page{Limit: s.batchSize, Skip: offset})
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
		if len(batch) < s.batchSize {
			break
		}
	}
	return results, nil
}

// Count returns the number of artifacts on the branch matching the filter.
func (s *Service) Count(ctx context.Context, principal auth.Principal, ref hierarchy.ChainRef, filter storage.ArtifactFilter, opts GetOptions) (int, error) {
	if _, err := s.validateForRead(ctx, principal, ref, opts); err != nil {
		return 0, err
	}
	branchID, err := ident.Compose(ref.Org, ref.Project, ref.Branch)
	if err != nil {
		return 0, err
	}
	return s.store.CountArtifacts(ctx, branchID, filter)
}

func (s *Service) notify(ctx context.Context, event string, artifact *registry.Artifact) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event, artifact)
}

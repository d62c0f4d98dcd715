package storage

import (
	"context"
	"strings"
	"time"

	"github.com/trovehq/trove/pkg/registry"
)

// ArtifactFilter narrows an artifact search. Zero-value fields match
// everything; Custom entries match when the artifact carries the key and
// its value has the given prefix.
type ArtifactFilter struct {
	Filename    string
	ContentType string
	Custom      map[string]string
}

// Matches reports whether the artifact satisfies the filter.
func (f ArtifactFilter) Matches(a *registry.Artifact) bool {
	if f.Filename != "" && a.Filename != f.Filename {
		return false
	}
	if f.ContentType != "" && a.ContentType != f.ContentType {
		return false
	}
	for key, prefix := range f.Custom {
		value, ok := a.Custom[key]
		if !ok || !strings.HasPrefix(value, prefix) {
			return false
		}
	}
	return true
}

// Page bounds a search result. A zero Limit means unbounded.
type Page struct {
	Limit int
	Skip  int
}

// MetadataStore is the document store for hierarchy and artifact records,
// keyed by composite identifier. Implementations return typed errors only:
// NotFoundError for missing records, OperationError for duplicates and for
// wrapped driver failures. Archived records are returned like any other;
// visibility rules belong to the hierarchy validator, not the store.
type MetadataStore interface {
	CreateOrganization(ctx context.Context, org *registry.Organization) error
	GetOrganization(ctx context.Context, id string) (*registry.Organization, error)
	UpdateOrganization(ctx context.Context, org *registry.Organization) error
	ListOrganizations(ctx context.Context) ([]*registry.Organization, error)

	CreateProject(ctx context.Context, project *registry.Project) error
	GetProject(ctx context.Context, id string) (*registry.Project, error)
	UpdateProject(ctx context.Context, project *registry.Project) error
	ListProjects(ctx context.Context, orgID string) ([]*registry.Project, error)

	CreateBranch(ctx context.Context, branch *registry.Branch) error
	GetBranch(ctx context.Context, id string) (*registry.Branch, error)
	UpdateBranch(ctx context.Context, branch *registry.Branch) error
	ListBranches(ctx context.Context, projectID string) ([]*registry.Branch, error)

	CreateArtifact(ctx context.Context, artifact *registry.Artifact) error
	GetArtifact(ctx context.Context, id string) (*registry.Artifact, error)
	UpdateArtifact(ctx context.Context, artifact *registry.Artifact) error
	DeleteArtifact(ctx context.Context, id string) error
	ListArtifacts(ctx context.Context, branchID string, filter ArtifactFilter, page Page) ([]*registry.Artifact, error)
	CountArtifacts(ctx context.Context, branchID string, filter ArtifactFilter) (int, error)

	// CountHashReferences counts history entries across every artifact that
	// reference the given blob hash. Garbage collection deletes a blob only
	// when this reaches zero after a metadata delete commits.
	CountHashReferences(ctx context.Context, hash string) (int, error)

	HealthCheck(ctx context.Context) error
}

// Config selects and parameterizes the storage backends.
type Config struct {
	Type string // "memory", "filesystem", "postgres"

	// Filesystem config
	FilesystemRoot string

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration

	// Blob store config
	BlobRoot    string // filesystem blob root
	BlobBackend string // "filesystem" or "s3"

	// S3 config (blob backend "s3")
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config (permission cache)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Permission cache TTL; zero disables caching.
	PermissionCacheTTL time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Type:             "filesystem",
		FilesystemRoot:   "/var/lib/trove/meta",
		BlobRoot:         "/var/lib/trove/blobs",
		BlobBackend:      "filesystem",
		PostgresMaxConns: 20,
		PostgresTimeout:  10 * time.Second,
	}
}

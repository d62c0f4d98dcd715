package registry

import (
	"time"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/ident"
)

// State is the lifecycle state of a permissioned resource. Archiving is a
// soft delete: the record stays in storage but is hidden from default
// queries.
type State string

const (
	StateActive   State = "active"
	StateArchived State = "archived"
)

// Lifecycle is the tagged lifecycle state with its audit fields. The
// timestamp and actor are only set while the state is archived.
type Lifecycle struct {
	State      State      `json:"state"`
	ArchivedOn *time.Time `json:"archived_on,omitempty"`
	ArchivedBy string     `json:"archived_by,omitempty"`
}

// Meta is the permission sub-model shared by organizations, projects and
// branches: composite identifier, permission map, lifecycle and audit
// fields.
type Meta struct {
	ID             string                  `json:"id"`
	Permissions    map[string][]auth.Level `json:"permissions"`
	Lifecycle      Lifecycle               `json:"lifecycle"`
	CreatedBy      string                  `json:"created_by"`
	CreatedOn      time.Time               `json:"created_on"`
	LastModifiedBy string                  `json:"last_modified_by"`
	UpdatedOn      time.Time               `json:"updated_on"`
}

// ResourceID returns the composite identifier.
func (m *Meta) ResourceID() string {
	return m.ID
}

// ResourceMeta returns the permission sub-model itself.
func (m *Meta) ResourceMeta() *Meta {
	return m
}

// Archived reports whether the resource is soft-deleted.
func (m *Meta) Archived() bool {
	return m.Lifecycle.State == StateArchived
}

// Archive transitions the resource to the archived state.
func (m *Meta) Archive(by string, now time.Time) {
	m.Lifecycle = Lifecycle{State: StateArchived, ArchivedOn: &now, ArchivedBy: by}
	m.LastModifiedBy = by
	m.UpdatedOn = now
}

// Unarchive restores the resource to the active state.
func (m *Meta) Unarchive(by string, now time.Time) {
	m.Lifecycle = Lifecycle{State: StateActive}
	m.LastModifiedBy = by
	m.UpdatedOn = now
}

// SetPermission replaces the principal's level set. An empty set removes the
// principal's entry entirely: "no access" and "explicit empty grant" must be
// indistinguishable.
func (m *Meta) SetPermission(username string, levels []auth.Level) {
	if len(levels) == 0 {
		delete(m.Permissions, username)
		return
	}
	if m.Permissions == nil {
		m.Permissions = make(map[string][]auth.Level)
	}
	m.Permissions[username] = levels
}

// RemovePermission removes the principal's entry from the permission map.
func (m *Meta) RemovePermission(username string) {
	delete(m.Permissions, username)
}

// NewMeta creates the permission sub-model for a freshly created resource.
// The creator holds admin from the start.
func NewMeta(id string, creator string, now time.Time) Meta {
	return Meta{
		ID:             id,
		Permissions:    map[string][]auth.Level{creator: {auth.Admin}},
		Lifecycle:      Lifecycle{State: StateActive},
		CreatedBy:      creator,
		CreatedOn:      now,
		LastModifiedBy: creator,
		UpdatedOn:      now,
	}
}

// Organization is the root of the permission hierarchy.
type Organization struct {
	Meta
	Name string `json:"name"`
}

// ParentOrgID implements Resource; organizations have no parent.
func (o *Organization) ParentOrgID() string {
	return ""
}

// Project is scoped under an organization.
type Project struct {
	Meta
	Name string `json:"name"`
}

// ParentOrgID returns the owning organization's identifier.
func (p *Project) ParentOrgID() string {
	return ident.OrgID(p.ID)
}

// Branch is scoped under a project. A tag branch is a read-only snapshot:
// artifact and element mutation against it always fails.
type Branch struct {
	Meta
	Name  string `json:"name"`
	IsTag bool   `json:"is_tag"`
}

// ParentOrgID returns the owning organization's identifier.
func (b *Branch) ParentOrgID() string {
	return ident.OrgID(b.ID)
}

// Resource is any permissioned resource the resolver can evaluate.
type Resource interface {
	ResourceID() string
	ResourceMeta() *Meta
	// ParentOrgID is the organization the resource inherits permissions
	// from, or "" for organizations themselves.
	ParentOrgID() string
}

// Package storage defines the metadata store interface and its
// configuration. Metadata records (organizations, projects, branches,
// artifacts) persist in a document store keyed by composite identifier;
// backends live in the memory, filesystem and postgres subpackages. Blob
// content is a separate concern handled by pkg/blob.
package storage

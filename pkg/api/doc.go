// Package api exposes the HTTP surface of the server: organization,
// project and branch management, artifact CRUD with blob upload and
// download, webhook administration, and health and metrics endpoints.
package api

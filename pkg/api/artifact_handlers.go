package api

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trovehq/trove/pkg/artifacts"
	"github.com/trovehq/trove/pkg/hierarchy"
	"github.com/trovehq/trove/pkg/httputil"
	"github.com/trovehq/trove/pkg/storage"
)

// maxBlobSize caps raw blob uploads at 256 MiB.
const maxBlobSize = 256 << 20

type createArtifactRequest struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`

	// Data carries the optional blob content, base64-encoded.
	Data string `json:"data,omitempty"`
}

type updateArtifactRequest struct {
	Filename    *string           `json:"filename,omitempty"`
	ContentType *string           `json:"content_type,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
	Data        string            `json:"data,omitempty"`
}

func chainRef(r *http.Request) hierarchy.ChainRef {
	vars := mux.Vars(r)
	return hierarchy.ChainRef{
		Org:     vars["org"],
		Project: vars["project"],
		Branch:  vars["branch"],
	}
}

func decodeBlobData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(data)
}

func (s *Server) createArtifact(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createArtifactRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	blobBytes, err := decodeBlobData(req.Data)
	if err != nil {
		httputil.WriteBadRequest(w, "data is not valid base64")
		return
	}

	input := artifacts.Input{
		ID:          req.ID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Custom:      req.Custom,
	}
	artifact, err := s.artifacts.Create(r.Context(), principal, chainRef(r), input, blobBytes)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteCreated(w, artifact)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	opts, err := getOptions(r)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	artifact, err := s.artifacts.Get(r.Context(), principal, chainRef(r), mux.Vars(r)["artifact"], opts)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, artifact)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	opts, err := getOptions(r)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	filter := storage.ArtifactFilter{
		Filename:    httputil.QueryString(r, "filename", ""),
		ContentType: httputil.QueryString(r, "content_type", ""),
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	skip, err := httputil.QueryInt(r, "skip", 0)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	results, err := s.artifacts.List(r.Context(), principal, chainRef(r), filter, storage.Page{Limit: limit, Skip: skip}, opts)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, results)
}

func (s *Server) updateArtifact(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req updateArtifactRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	blobBytes, err := decodeBlobData(req.Data)
	if err != nil {
		httputil.WriteBadRequest(w, "data is not valid base64")
		return
	}

	patch := artifacts.Patch{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Custom:      req.Custom,
	}
	artifact, err := s.artifacts.Update(r.Context(), principal, chainRef(r), mux.Vars(r)["artifact"], patch, blobBytes)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, artifact)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if err := s.artifacts.Remove(r.Context(), principal, chainRef(r), mux.Vars(r)["artifact"]); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) downloadBlob(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	opts, err := getOptions(r)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	data, artifact, err := s.artifacts.GetBlob(r.Context(), principal, chainRef(r), mux.Vars(r)["artifact"], opts)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if artifact.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) uploadBlob(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlobSize+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}
	if len(data) > maxBlobSize {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "blob exceeds maximum size")
		return
	}
	if len(data) == 0 {
		httputil.WriteBadRequest(w, "blob content is required")
		return
	}

	patch := artifacts.Patch{}
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		patch.ContentType = &contentType
	}
	artifact, err := s.artifacts.Update(r.Context(), principal, chainRef(r), mux.Vars(r)["artifact"], patch, data)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, artifact)
}

func getOptions(r *http.Request) (artifacts.GetOptions, error) {
	includeArchived, err := httputil.QueryBool(r, "include_archived", false)
	if err != nil {
		return artifacts.GetOptions{}, err
	}
	return artifacts.GetOptions{IncludeArchived: includeArchived}, nil
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/contextkeys"
	"github.com/trovehq/trove/pkg/httputil"
	"github.com/trovehq/trove/pkg/registry"
)

type createOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createBranchRequest struct {
	ID    string `json:"id"`
	IsTag bool   `json:"is_tag"`
}

type setPermissionRequest struct {
	Levels []string `json:"levels"`
}

func principalFrom(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return principal, ok
}

func (s *Server) createOrg(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := s.registry.CreateOrganization(r.Context(), principal, req.ID, req.Name)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

func (s *Server) listOrgs(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	orgs, err := s.registry.ListOrganizations(r.Context(), principal)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, orgs)
}

func (s *Server) getOrg(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	org, err := s.registry.GetOrganization(r.Context(), principal, mux.Vars(r)["org"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) archiveOrg(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	org, err := s.registry.ArchiveOrganization(r.Context(), principal, mux.Vars(r)["org"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) unarchiveOrg(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	org, err := s.registry.UnarchiveOrganization(r.Context(), principal, mux.Vars(r)["org"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (s *Server) setOrgPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	org, err := s.registry.GetOrganization(r.Context(), principal, vars["org"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	s.setPermission(w, r, principal, org, vars["username"])
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := s.registry.CreateProject(r.Context(), principal, mux.Vars(r)["org"], req.ID, req.Name)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteCreated(w, project)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	projects, err := s.registry.ListProjects(r.Context(), principal, mux.Vars(r)["org"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	project, err := s.registry.GetProject(r.Context(), principal, vars["org"], vars["project"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

func (s *Server) archiveProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	project, err := s.registry.ArchiveProject(r.Context(), principal, vars["org"], vars["project"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

func (s *Server) unarchiveProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	project, err := s.registry.UnarchiveProject(r.Context(), principal, vars["org"], vars["project"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

func (s *Server) setProjectPermission(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	project, err := s.registry.GetProject(r.Context(), principal, vars["org"], vars["project"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	s.setPermission(w, r, principal, project, vars["username"])
}

// setPermission parses the level list and applies it to the resource. An
// empty list removes the user's entry.
func (s *Server) setPermission(w http.ResponseWriter, r *http.Request, principal auth.Principal, resource registry.Resource, username string) {
	var req setPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	levels := make([]auth.Level, 0, len(req.Levels))
	for _, raw := range req.Levels {
		level, err := auth.ParseLevel(raw)
		if err != nil {
			httputil.WriteTypedError(w, err)
			return
		}
		levels = append(levels, level)
	}

	if err := s.registry.SetPermission(r.Context(), principal, resource, username, levels); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var req createBranchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	branch, err := s.registry.CreateBranch(r.Context(), principal, vars["org"], vars["project"], req.ID, req.IsTag)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteCreated(w, branch)
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	branches, err := s.registry.ListBranches(r.Context(), principal, vars["org"], vars["project"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, branches)
}

func (s *Server) getBranch(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	branch, err := s.registry.GetBranch(r.Context(), principal, vars["org"], vars["project"], vars["branch"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, branch)
}

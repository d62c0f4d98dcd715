package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/trovehq/trove/pkg/httputil"
	"github.com/trovehq/trove/pkg/webhooks"
)

type registerWebhookRequest struct {
	URL    string               `json:"url"`
	Events []webhooks.EventType `json:"events"`
	Secret string               `json:"secret,omitempty"`
}

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	var req registerWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	webhook := &webhooks.Webhook{
		URL:    req.URL,
		Events: req.Events,
		Secret: req.Secret,
	}
	if err := s.hooks.Register(webhook); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteCreated(w, webhook)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	httputil.WriteSuccess(w, s.hooks.List())
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	webhook, err := s.hooks.Get(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, webhook)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	if err := s.hooks.Unregister(mux.Vars(r)["id"]); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) activateWebhook(w http.ResponseWriter, r *http.Request) {
	s.setWebhookActive(w, r, true)
}

func (s *Server) deactivateWebhook(w http.ResponseWriter, r *http.Request) {
	s.setWebhookActive(w, r, false)
}

func (s *Server) setWebhookActive(w http.ResponseWriter, r *http.Request, active bool) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.hooks.SetActive(id, active); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	webhook, err := s.hooks.Get(id)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, webhook)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteTypedError(w, err)
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := s.hooks.Get(id); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, s.hooks.Deliveries(id, limit))
}

func (s *Server) webhookStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalFrom(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.hooks.Get(id); err != nil {
		httputil.WriteTypedError(w, err)
		return
	}
	httputil.WriteSuccess(w, s.hooks.Stats(id))
}

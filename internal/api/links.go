package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListLinks(w http.ResponseWriter, _ *http.Request) {
	links := s.deps.Links.Links()
	writeJSON(w, http.StatusOK, map[string]any{
		"links": links,
		"count": len(links),
	})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "link")
	l, ok := s.deps.Links.Link(name)
	if !ok {
		writeNotFound(w, "link not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "link")
	l, ok := s.deps.Links.Link(name)
	if !ok {
		writeNotFound(w, "link not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"link":        l.Name,
		"controllers": l.Controllers,
		"count":       len(l.Controllers),
	})
}

func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "link")
	l, ok := s.deps.Links.Link(name)
	if !ok {
		writeNotFound(w, "link not found: "+name)
		return
	}
	ctrl := chi.URLParam(r, "controller")
	for _, c := range l.Controllers {
		if c.Name == ctrl {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeNotFound(w, "controller not found: "+name+"/"+ctrl)
}

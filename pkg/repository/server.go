package repository

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/artifact"
)

// Server exposes a Handle over HTTP using the wire format REST consumes:
//
//	GET /artifacts/read?url=&version=   one artifact
//	GET /artifacts?url=&type=&...       one page, with a next link
//	PUT /artifacts                      create or update
type Server struct {
	handle Handle
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer creates an HTTP server for h.
func NewServer(h Handle, logger zerolog.Logger) *Server {
	s := &Server{
		handle: h,
		logger: logger.With().Str("component", "repository-server").Str("repository", h.Name()).Logger(),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /artifacts/read", s.handleRead)
	s.mux.HandleFunc("GET /artifacts", s.handleSearch)
	s.mux.HandleFunc("PUT /artifacts", s.handleWrite)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ref := artifact.Reference{
		URL:     r.URL.Query().Get("url"),
		Version: r.URL.Query().Get("version"),
	}
	if ref.URL == "" {
		s.writeError(w, artifact.NewError(artifact.KindInvalidState, "url is required", nil))
		return
	}

	node, err := s.handle.Read(r.Context(), ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := Query{
		URL:     params.Get("url"),
		Version: params.Get("version"),
		Type:    params.Get("type"),
		Status:  params.Get("status"),
	}
	if v := params.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			s.writeError(w, artifact.NewError(artifact.KindInvalidState, "invalid page_size", err))
			return
		}
		q.PageSize = size
	}
	offset := 0
	if c := params.Get("cursor"); c != "" {
		var err error
		if offset, err = decodeOffset(c); err != nil {
			s.writeError(w, artifact.NewError(artifact.KindInvalidState, err.Error(), nil))
			return
		}
	}

	it, err := s.handle.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	size := q.pageSize()
	page := Page{Items: []artifact.Node{}}
	seen := 0
	for it.Next() {
		if seen >= offset+size {
			next := url.Values{}
			for k, v := range params {
				next[k] = v
			}
			next.Set("page_size", strconv.Itoa(size))
			next.Set("cursor", encodeOffset(offset+size))
			page.Next = "/artifacts?" + next.Encode()
			break
		}
		if seen >= offset {
			page.Items = append(page.Items, it.Node())
		}
		seen++
	}
	if err := it.Err(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var node artifact.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		s.writeError(w, artifact.NewError(artifact.KindInvalidState, "invalid artifact document", err))
		return
	}
	if node.Reference.URL == "" || node.Reference.Version == "" {
		s.writeError(w, artifact.NewError(artifact.KindInvalidState, "artifact url and version are required", nil))
		return
	}

	committed, err := s.handle.Write(r.Context(), node)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, committed)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Kind: string(artifact.KindRepository), Message: err.Error()}
	status := http.StatusInternalServerError

	var e *artifact.Error
	if errors.As(err, &e) {
		body.Kind = string(e.Kind)
		body.Message = e.Message
		switch e.Kind {
		case artifact.KindNotFound:
			status = http.StatusNotFound
		case artifact.KindConflict:
			status = http.StatusConflict
		case artifact.KindRepository:
			status = http.StatusBadGateway
		default:
			status = http.StatusUnprocessableEntity
		}
	}

	if status >= 500 {
		s.logger.Error().Err(err).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Msg("request rejected")
	}
	s.writeJSON(w, status, body)
}

// Package httpapi exposes entity list queries over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/engine"
	"dcsa-query/internal/logging"
	"dcsa-query/internal/rowmap"
)

// Pagination response headers.
const (
	HeaderCurrentPage  = "Current-Page"
	HeaderFirstPage    = "First-Page"
	HeaderPreviousPage = "Previous-Page"
	HeaderNextPage     = "Next-Page"
	HeaderTotalCount   = "X-Total-Count"
	HeaderLink         = "Link"
)

// ExposedHeaders lists the headers browsers need to read pagination links.
var ExposedHeaders = []string{
	HeaderLink, HeaderCurrentPage, HeaderFirstPage, HeaderPreviousPage, HeaderNextPage, HeaderTotalCount,
}

// ListPath is the route pattern for entity lists.
const ListPath = "/v1/:entity"

type handler struct {
	engine  *engine.Engine
	mappers sync.Map // entity name -> *rowmap.RecordMapper
}

// NewRouter returns a router serving GET /v1/:entity.
func NewRouter(e *engine.Engine) *httprouter.Router {
	h := &handler{engine: e}
	router := httprouter.New()
	router.GET(ListPath, h.list)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "notFound", "no route for "+r.URL.Path)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "methodNotAllowed", r.Method+" is not supported")
	})
	return router
}

func (h *handler) list(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	entity := ps.ByName("entity")
	mapper, err := h.mapper(entity)
	if err != nil {
		if !isNotFound(err) {
			logging.FromContext(r.Context()).Error("failed to prepare entity",
				slog.String("entity", entity),
				slog.String("error", err.Error()),
			)
		}
		writeFailure(w, r, err)
		return
	}

	page, err := engine.List(r.Context(), h.engine, entity, r.URL.Query(), mapper)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	h.writeLinks(w, r, page)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(page.Items); err != nil {
		logging.FromContext(r.Context()).Warn("failed to write list response", slog.String("error", err.Error()))
	}
}

func (h *handler) mapper(entity string) (*rowmap.RecordMapper, error) {
	if m, ok := h.mappers.Load(entity); ok {
		return m.(*rowmap.RecordMapper), nil
	}
	a, err := h.engine.Registry().Get(entity)
	if err != nil {
		return nil, err
	}
	m, err := rowmap.NewRecordMapper(a)
	if err != nil {
		return nil, err
	}
	actual, _ := h.mappers.LoadOrStore(entity, m)
	return actual.(*rowmap.RecordMapper), nil
}

func (h *handler) writeLinks(w http.ResponseWriter, r *http.Request, page *engine.Page[rowmap.Record]) {
	header := w.Header()
	var links []string
	add := func(token, name, rel string) {
		if token == "" {
			return
		}
		link := h.pageURL(r, token)
		header.Set(name, link)
		if rel != "" {
			links = append(links, "<"+link+`>; rel="`+rel+`"`)
		}
	}
	add(page.Current, HeaderCurrentPage, "")
	add(page.First, HeaderFirstPage, "first")
	add(page.Prev, HeaderPreviousPage, "prev")
	add(page.Next, HeaderNextPage, "next")
	if len(links) > 0 {
		header.Set(HeaderLink, strings.Join(links, ", "))
	}
	if page.Total != nil {
		header.Set(HeaderTotalCount, strconv.FormatInt(*page.Total, 10))
	}
}

func (h *handler) pageURL(r *http.Request, token string) string {
	u := url.URL{Path: r.URL.Path, RawQuery: url.Values{h.engine.CursorParam(): {token}}.Encode()}
	if host := r.Host; host != "" {
		u.Host = host
		u.Scheme = "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			u.Scheme = "https"
		}
	}
	return u.String()
}

func isNotFound(err error) bool {
	return errors.Is(err, analysis.ErrUnknownEntity)
}

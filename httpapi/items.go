package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/acksell/slotdb/pagination"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/transport"
	"github.com/acksell/slotdb/updateexpr"
)

type createRequest struct {
	Item      map[string]any `json:"item"`
	Replace   bool           `json:"replace"`
	Condition map[string]any `json:"condition"`
	Under     *underRequest  `json:"under"`
}

type underRequest struct {
	Entity   string         `json:"entity"`
	Relation string         `json:"relation"`
	Parent   map[string]any `json:"parent"`
}

type updateRequest struct {
	Filter    map[string]any `json:"filter"`
	Update    map[string]any `json:"update"`
	Condition map[string]any `json:"condition"`
	Upsert    bool           `json:"upsert"`
}

// HandleCreate handles POST requests storing one item.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cond, err := parseFilter(req.Condition)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := transport.CreateOneInput{
		Item:      physical.Document(req.Item),
		Catalog:   cat,
		Replace:   req.Replace,
		Condition: cond,
	}
	if req.Under != nil {
		parent, ok := h.catalogs[req.Under.Entity]
		if !ok {
			h.fail(w, r, fmt.Errorf("%w: %q", ErrUnknownEntity, req.Under.Entity))
			return
		}
		in.Under = &transport.RelationScope{
			Catalog:  parent,
			Relation: req.Under.Relation,
			Parent:   physical.Document(req.Under.Parent),
		}
	}

	res, err := h.transporter.CreateOne(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch {
	case res.Error != "":
		writeJSON(w, http.StatusConflict, res)
	case res.Created:
		writeJSON(w, http.StatusCreated, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleFind handles GET requests listing items. With a "first" parameter
// the result is a page, otherwise every match up to "limit". "fields"
// limits the returned fields to a comma-separated list.
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f, err := queryFilter(r, "filter")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cond, err := queryFilter(r, "condition")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dir, err := pagination.ParseDirection(q.Get("direction"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	fields := listParam(q.Get("fields"))

	if q.Has("first") {
		first, err := intParam(q.Get("first"), "first")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		conn, err := h.transporter.Paginate(r.Context(), transport.PaginateInput{
			Filter:     f,
			Catalog:    cat,
			Condition:  cond,
			Direction:  dir,
			First:      first,
			After:      q.Get("after"),
			Projection: fields,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
		return
	}

	limit := 0
	if q.Has("limit") {
		if limit, err = intParam(q.Get("limit"), "limit"); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	recs, err := h.transporter.FindMany(r.Context(), transport.FindInput{
		Filter:     f,
		Catalog:    cat,
		Relations:  listParam(q.Get("relations")),
		Condition:  cond,
		Direction:  dir,
		Limit:      limit,
		Projection: fields,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": recs,
		"count": len(recs),
	})
}

// HandleGetByID handles GET requests for one item by identity.
func (h *Handler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := h.transporter.FindByID(r.Context(), cat, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("%s %q not found", cat.Entity(), id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleUpdate handles PATCH requests updating the first matching item.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := parseFilter(req.Filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cond, err := parseFilter(req.Condition)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := updateexpr.Parse(req.Update)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.transporter.UpdateOne(r.Context(), transport.UpdateOneInput{
		Filter:    f,
		Catalog:   cat,
		Update:    u,
		Condition: cond,
		Upsert:    req.Upsert,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch {
	case res.Error != "":
		writeJSON(w, http.StatusConflict, res)
	case res.Created:
		writeJSON(w, http.StatusCreated, res)
	case !res.Updated:
		WriteJSONError(w, http.StatusNotFound, "no "+cat.Entity()+" matched")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleDelete handles DELETE requests removing the first item matching
// the "filter" parameter.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := queryFilter(r, "filter")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cond, err := queryFilter(r, "condition")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.transporter.DeleteOne(r.Context(), transport.DeleteOneInput{Filter: f, Catalog: cat, Condition: cond})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		WriteJSONError(w, http.StatusNotFound, "no "+cat.Entity()+" matched")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleExplain handles GET requests describing how a filter compiles.
func (h *Handler) HandleExplain(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := queryFilter(r, "filter")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.transporter.Explain(r.Context(), cat, f, listParam(r.URL.Query().Get("relations"))...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "entities": len(h.catalogs)})
}

// listParam splits a comma-separated parameter, dropping empty entries.
func listParam(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func intParam(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", errBadRequest, name)
	}
	return n, nil
}

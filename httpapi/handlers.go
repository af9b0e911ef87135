// Package httpapi serves the transport operations over HTTP.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/transport"
)

// ErrUnknownEntity is returned for entities that aren't configured.
var ErrUnknownEntity = errors.New("unknown entity")

// maxBody caps request bodies.
const maxBody = 4 << 20

// Handler provides HTTP handlers for the item API.
type Handler struct {
	transporter *transport.Transporter
	catalogs    map[string]*index.Catalog
	log         *slog.Logger
}

// NewHandler creates a handler serving the given entities.
func NewHandler(t *transport.Transporter, catalogs map[string]*index.Catalog, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		transporter: t,
		catalogs:    catalogs,
		log:         log,
	}
}

func (h *Handler) catalog(r *http.Request) (*index.Catalog, error) {
	name := mux.Vars(r)["entity"]
	cat, ok := h.catalogs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return cat, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into v. Numbers are decoded as int64 when
// integral, float64 otherwise.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	return unmarshal(body, v)
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	normalizeInto(v)
	return nil
}

var errBadRequest = errors.New("malformed request")

func normalizeInto(v any) {
	switch x := v.(type) {
	case *map[string]any:
		if *x != nil {
			*x = normalize(*x).(map[string]any)
		}
	case *createRequest:
		x.Item = normalizeMap(x.Item)
		x.Condition = normalizeMap(x.Condition)
		if x.Under != nil {
			x.Under.Parent = normalizeMap(x.Under.Parent)
		}
	case *updateRequest:
		x.Filter = normalizeMap(x.Filter)
		x.Update = normalizeMap(x.Update)
		x.Condition = normalizeMap(x.Condition)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return normalize(m).(map[string]any)
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		if x == nil {
			return map[string]any(nil)
		}
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	}
	return v
}

// queryFilter parses a JSON filter from the named query parameter. A
// missing parameter is an empty filter.
func queryFilter(r *http.Request, param string) (filterexpr.Filter, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return nil, nil
	}
	m, err := ParseObject([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", param, err)
	}
	return filterexpr.Parse(m)
}

func parseFilter(m map[string]any) (filterexpr.Filter, error) {
	if m == nil {
		return nil, nil
	}
	return filterexpr.Parse(m)
}

// ParseObject decodes a JSON object the way request bodies are decoded.
func ParseObject(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", errBadRequest)
	}
	return m, nil
}

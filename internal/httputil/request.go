package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetRequiredQueryParameters reads the given query parameters. If one is
// missing or blank, a 400 is written with the reason and false is returned.
func GetRequiredQueryParameters(w http.ResponseWriter, r *http.Request, paramKeys ...string) (map[string]string, zerolog.Logger, bool) {
	params := make(map[string]string, len(paramKeys))
	logger := log.With()
	for _, key := range paramKeys {
		value := r.URL.Query().Get(key)
		if value == "" {
			http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
			return nil, zerolog.Nop(), false
		}
		params[key] = value
		logger = logger.Str(key, value)
	}
	return params, logger.Logger(), true
}

// GetUintPathParameters parses numeric route parameters such as
// organization_id and project_id.
func GetUintPathParameters(ps httprouter.Params, names ...string) (map[string]uint64, error) {
	ids := make(map[string]uint64, len(names))
	for _, name := range names {
		raw := ps.ByName(name)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		ids[name] = id
	}
	return ids, nil
}

// Package handlers implements the ledger import HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/cashflow-ledger/internal/api/middleware"
)

var errEmptyBody = errors.New("empty body")

// decodeJSON reads the request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		if allowEmpty {
			return nil
		}
		return errEmptyBody
	}
	return err
}

// readBody decodes v or writes a 400 and reports false.
func readBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	if err := decodeJSON(r, v, allowEmpty); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// boolQuery parses a boolean query parameter, defaulting to false.
func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && v
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

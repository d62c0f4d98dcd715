package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/trovehq/trove/pkg/errs"
)

// ParseJSON decodes the request body into dest.
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes the body and writes a 400 on failure.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathString extracts a required string path parameter.
func PathString(r *http.Request, key string) (string, error) {
	value := mux.Vars(r)[key]
	if value == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return value, nil
}

// QueryInt extracts an integer query parameter, using defaultVal when
// absent.
func QueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, errs.NewDataFormat("invalid integer for query param %s: %s", key, str)
	}
	return value, nil
}

// QueryBool extracts a boolean query parameter, using defaultVal when
// absent.
func QueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	value, err := strconv.ParseBool(str)
	if err != nil {
		return false, errs.NewDataFormat("invalid boolean for query param %s: %s", key, str)
	}
	return value, nil
}

// QueryString extracts a string query parameter, using defaultVal when
// absent.
func QueryString(r *http.Request, key, defaultVal string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultVal
}

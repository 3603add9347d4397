package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// pagination reads page/size query parameters with sane bounds.
func pagination(r *http.Request) (page, size int) {
	page, size = 1, 10
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n >= 1 {
		page = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && n >= 1 && n <= 100 {
		size = n
	}
	return page, size
}

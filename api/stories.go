package api

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielmmetz/hn-reader/hn"
)

const pageSize = 30

// Items is the part of hn.Client the handlers read through.
type Items interface {
	ListIDs(ctx context.Context, list hn.List) ([]int, error)
	GetItem(ctx context.Context, id int) (*hn.Item, error)
}

type StoriesHandler struct {
	items Items
}

func NewStoriesHandler(items Items) *StoriesHandler {
	return &StoriesHandler{items: items}
}

// ListStories handles GET /api/lists/{kind}?page=N
func (h *StoriesHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	list, err := hn.ParseList(r.PathValue("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	ids, err := h.items.ListIDs(r.Context(), list)
	if err != nil {
		slog.Error("list fetch failed", "list", list, "error", err)
		http.Error(w, "story list unavailable, try again", http.StatusBadGateway)
		return
	}

	resp := map[string]interface{}{
		"kind":  list,
		"ids":   paginate(ids, page, pageSize),
		"page":  page,
		"total": len(ids),
	}
	writeJSON(w, r, resp)
}

// GetStory handles GET /api/items/{id}
func (h *StoriesHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	item, ok := loadItem(w, r, h.items)
	if !ok {
		return
	}
	writeJSON(w, r, item)
}

// loadItem resolves the {id} path value to an item, writing an error response
// and returning false when it cannot.
func loadItem(w http.ResponseWriter, r *http.Request, items Items) (*hn.Item, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}

	item, err := items.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return nil, false
	}
	if item == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return item, true
}

// paginate returns the 1-indexed page of ids. Out of range pages are empty.
func paginate(ids []int, page, size int) []int {
	// Compare page counts before multiplying so huge pages cannot overflow.
	if page < 1 || page-1 >= (len(ids)+size-1)/size {
		return []int{}
	}
	offset := (page - 1) * size
	end := min(offset+size, len(ids))
	result := make([]int, end-offset)
	copy(result, ids[offset:end])
	return result
}

func writeJSON(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%x"`, md5.Sum(body))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.Write(body)
}

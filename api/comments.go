package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielmmetz/hn-reader/hn"
)

// Trees builds resolved comment trees.
type Trees interface {
	CommentTree(ctx context.Context, rootIDs []int) []*hn.Item
}

type CommentsHandler struct {
	items Items
	trees Trees
}

func NewCommentsHandler(items Items, trees Trees) *CommentsHandler {
	return &CommentsHandler{items: items, trees: trees}
}

// GetComments handles GET /api/items/{id}/comments
func (h *CommentsHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	item, ok := loadItem(w, r, h.items)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"story_id": item.ID,
		"comments": h.trees.CommentTree(r.Context(), item.Kids),
	}
	writeJSON(w, r, resp)
}

// GetTree handles GET /api/comments?ids=1,2,3
func (h *CommentsHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		http.Error(w, "invalid ids", http.StatusBadRequest)
		return
	}

	resp := map[string]interface{}{
		"comments": h.trees.CommentTree(r.Context(), ids),
	}
	writeJSON(w, r, resp)
}

func parseIDs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

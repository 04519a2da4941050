package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielmmetz/hn-reader/readability"
)

// Articles extracts reader-mode content for a story URL.
type Articles interface {
	Extract(ctx context.Context, storyID int, rawURL string) (*readability.Article, error)
}

type ArticlesHandler struct {
	items    Items
	articles Articles
}

func NewArticlesHandler(items Items, articles Articles) *ArticlesHandler {
	return &ArticlesHandler{items: items, articles: articles}
}

// GetArticle handles GET /api/items/{id}/article
func (h *ArticlesHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	story, ok := loadItem(w, r, h.items)
	if !ok {
		return
	}

	if story.URL == "" {
		http.Error(w, "story has no URL", http.StatusNotFound)
		return
	}

	article, err := h.articles.Extract(r.Context(), story.ID, story.URL)
	if err != nil {
		slog.Warn("article extraction failed", "item_id", story.ID, "url", story.URL, "error", err)
		writeJSON(w, r, map[string]interface{}{
			"story_id":          story.ID,
			"extraction_failed": true,
		})
		return
	}

	writeJSON(w, r, article)
}

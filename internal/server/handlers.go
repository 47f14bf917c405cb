package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"newsdigest/internal/lock"
	"newsdigest/internal/model"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"
)

var errNoContent = errors.New("article has no content to summarize")

func (a *API) handleRoot(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{"message": WelcomeMessage})
}

func (a *API) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		respondErr(c, http.StatusInternalServerError, fmt.Errorf("database unreachable: %w", err))
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) handleListNews(c *gin.Context) {
	items, err := a.store.ListArticles(c.Request.Context())
	if err != nil {
		respondErr(c, http.StatusInternalServerError, err)
		return
	}
	respondJSON(c, http.StatusOK, items)
}

func (a *API) handleNewsByCategory(c *gin.Context) {
	items, err := a.store.ListArticlesByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		respondErr(c, http.StatusInternalServerError, err)
		return
	}
	respondJSON(c, http.StatusOK, items)
}

func (a *API) handleGetNews(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondErr(c, http.StatusBadRequest, err)
		return
	}
	article, err := a.store.GetArticle(c.Request.Context(), id)
	if err != nil {
		respondStoreErr(c, err, "news not found")
		return
	}
	respondJSON(c, http.StatusOK, article)
}

func (a *API) handleCreateSummary(c *gin.Context) {
	raw, ok := c.GetQuery("news_id")
	if !ok {
		respondErr(c, http.StatusBadRequest, errors.New("news_id query parameter is required"))
		return
	}
	newsID, err := parseID(raw)
	if err != nil {
		respondErr(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	article, err := a.store.GetArticle(ctx, newsID)
	if err != nil {
		respondStoreErr(c, err, "news not found")
		return
	}
	content := strings.TrimSpace(model.StringValue(article.Content))
	if content == "" {
		respondErr(c, http.StatusUnprocessableEntity, errNoContent)
		return
	}
	text, err := a.summarizer.Summarize(ctx, content)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, fmt.Errorf("summarize news %d: %w", newsID, err))
		return
	}
	summary, err := a.store.UpsertSummary(ctx, newsID, text)
	if err != nil {
		respondErr(c, http.StatusInternalServerError, err)
		return
	}
	respondJSON(c, http.StatusOK, summary)
}

func (a *API) handleGetSummary(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondErr(c, http.StatusBadRequest, err)
		return
	}
	summary, err := a.store.GetSummary(c.Request.Context(), id)
	if err != nil {
		respondStoreErr(c, err, "summary not found")
		return
	}
	respondJSON(c, http.StatusOK, summary)
}

func (a *API) handleIngest(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := a.scheduler.RunNow(ctx); err != nil {
		if errors.Is(err, scheduler.ErrIngestAlreadyRunning) || errors.Is(err, scheduler.ErrIngestCooldown) || errors.Is(err, lock.ErrLocked) {
			respondErr(c, http.StatusConflict, err)
			return
		}
		respondErr(c, http.StatusInternalServerError, err)
		return
	}
	payload := gin.H{"ok": true}
	if a.progress != nil {
		payload["report"] = a.progress.LastReport()
	}
	respondJSON(c, http.StatusOK, payload)
}

func (a *API) handleIngestStatus(c *gin.Context) {
	msg, msgAt := "", time.Time{}
	payload := gin.H{"state": a.scheduler.Snapshot()}
	if a.progress != nil {
		msg, msgAt = a.progress.LastProgress()
		payload["last_report"] = a.progress.LastReport()
	}
	payload["last_message"] = msg
	payload["last_message_at"] = msgAt
	respondJSON(c, http.StatusOK, payload)
}

func respondStoreErr(c *gin.Context, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		respondErr(c, http.StatusNotFound, errors.New(notFound))
		return
	}
	respondErr(c, http.StatusInternalServerError, err)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

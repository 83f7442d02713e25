package quizdocs

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quizzer-backend/internal/quiz"
	"quizzer-backend/internal/shared/server/respond"
)

const maxUploadSize = 10 << 20 // 10MB

// Handler wires HTTP handlers to the cache.
type Handler struct {
	Cache *Cache
}

// NewHandler constructs a Handler.
func NewHandler(cache *Cache) *Handler {
	return &Handler{Cache: cache}
}

// RegisterRoutes attaches document and cache routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.DELETE("/documents", h.clearAll)
	rg.GET("/documents/:id", h.get)
	rg.DELETE("/documents/:id", h.remove)

	rg.GET("/cache/health", h.health)
	rg.GET("/cache/usage", h.usage)
	rg.POST("/cache/sync", h.sync)
	rg.GET("/cache/events", h.events)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".json") {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file must be a JSON question file", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	questions, err := quiz.ParseFile(data)
	if err != nil {
		if errors.Is(err, quiz.ErrNotQuestionArray) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "file does not contain a question array", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid question file", nil)
		return
	}
	if len(questions) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file contains no valid questions", nil)
		return
	}

	meta := FileMeta{Filename: fileHeader.Filename, Size: fileHeader.Size}
	id, ok := h.Cache.SaveDocument(c.Request.Context(), meta, questions)
	if !ok {
		respond.Error(c, http.StatusInsufficientStorage, "storage_error", "failed to cache document", nil)
		return
	}

	rec, found := h.Cache.GetDocument(c.Request.Context(), id)
	if !found {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "document vanished after save", nil)
		return
	}
	c.Set("documentId", id)
	respond.JSON(c, http.StatusCreated, toSummary(rec))
}

func (h *Handler) list(c *gin.Context) {
	var docs []Record
	if c.Query("orderBy") == "lastAccessed" {
		docs = h.Cache.ListByLastAccess()
	} else {
		docs = h.Cache.List()
	}

	resp := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toSummary(doc))
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	rec, ok := h.Cache.GetDocument(c.Request.Context(), id)
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		return
	}
	c.Set("documentId", id)
	respond.JSON(c, http.StatusOK, toResponse(rec))
}

func (h *Handler) remove(c *gin.Context) {
	id := c.Param("id")
	if !h.Cache.RemoveDocument(c.Request.Context(), id) {
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		return
	}
	c.Set("documentId", id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearAll(c *gin.Context) {
	h.Cache.ClearAll(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *Handler) health(c *gin.Context) {
	respond.OK(c, h.Cache.Health(c.Request.Context()))
}

func (h *Handler) usage(c *gin.Context) {
	respond.OK(c, h.Cache.Usage(c.Request.Context()))
}

func (h *Handler) sync(c *gin.Context) {
	h.Cache.ForceSyncCheck(c.Request.Context())
	respond.OK(c, gin.H{"documentCount": len(h.Cache.List())})
}

// events streams cache change notifications as server-sent events until the
// client goes away.
func (h *Handler) events(c *gin.Context) {
	ch, cancel := h.Cache.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("documentCacheChanged", evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

package links

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/auth"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"go.uber.org/zap"
)

// Handler handles link-related requests
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new links handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// CreateLinkRequest represents the request to create a link
type CreateLinkRequest struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	IsPublic      *bool    `json:"isPublic"`
	FetchMetadata bool     `json:"fetchMetadata"`
}

func (r CreateLinkRequest) input() LinkInput {
	return LinkInput{
		URL:           r.URL,
		Title:         r.Title,
		Description:   r.Description,
		Tags:          r.Tags,
		IsPublic:      r.IsPublic,
		FetchMetadata: r.FetchMetadata,
	}
}

// UpdateLinkRequest represents the request to update a link
type UpdateLinkRequest struct {
	ID uint `json:"id" binding:"required"`
	CreateLinkRequest
}

// TagResponse is a tag as embedded in a link
type TagResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// LinkResponse represents a link in API responses
type LinkResponse struct {
	ID           uint          `json:"id"`
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	PreviewImage string        `json:"previewImage,omitempty"`
	SiteName     string        `json:"siteName,omitempty"`
	Favicon      string        `json:"favicon,omitempty"`
	IsPublic     bool          `json:"isPublic"`
	UserID       uint          `json:"userId"`
	User         models.Owner  `json:"user"`
	Tags         []TagResponse `json:"tags"`
	CreatedAt    string        `json:"createdAt"`
	UpdatedAt    string        `json:"updatedAt"`
}

func linkToResponse(link models.Link) LinkResponse {
	tags := make([]TagResponse, len(link.Tags))
	for i, tag := range link.Tags {
		tags[i] = TagResponse{ID: tag.ID, Name: tag.Name}
	}
	return LinkResponse{
		ID:           link.ID,
		URL:          link.URL,
		Title:        link.Title,
		Description:  link.Description,
		PreviewImage: link.PreviewImage,
		SiteName:     link.SiteName,
		Favicon:      link.Favicon,
		IsPublic:     link.IsPublic,
		UserID:       link.UserID,
		User:         link.Owner(),
		Tags:         tags,
		CreatedAt:    link.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    link.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// respondError maps service errors onto HTTP responses
func (h *Handler) respondError(c *gin.Context, err error, action string) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
	default:
		logging.FromContext(c, h.logger).Error("link operation failed",
			zap.String("action", action),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action + " link"})
	}
}

// Create creates a new link for the caller
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.service.Create(c.Request.Context(), userID, req.input())
	if err != nil {
		h.respondError(c, err, "create")
		return
	}

	c.JSON(http.StatusOK, gin.H{"link": linkToResponse(*link)})
}

// List returns the caller's links, optionally filtered by tag or search term
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	opts := ListOptions{
		Tag:   c.Query("tag"),
		Query: c.Query("q"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			opts.Offset = parsed
		}
	}

	links, err := h.service.List(c.Request.Context(), userID, opts)
	if err != nil {
		h.respondError(c, err, "list")
		return
	}

	responses := make([]LinkResponse, len(links))
	for i, link := range links {
		responses[i] = linkToResponse(link)
	}

	c.JSON(http.StatusOK, gin.H{"links": responses})
}

// Update replaces a link's fields and tags
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.service.Update(c.Request.Context(), userID, req.ID, req.input())
	if err != nil {
		h.respondError(c, err, "update")
		return
	}

	c.JSON(http.StatusOK, gin.H{"link": linkToResponse(*link)})
}

// Delete deletes the link named by the id query parameter
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	rawID := c.Query("id")
	if rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Link ID is required"})
		return
	}
	linkID, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil || linkID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid link ID"})
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, uint(linkID)); err != nil {
		h.respondError(c, err, "delete")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Metadata previews the metadata that would be scraped for a URL
func (h *Handler) Metadata(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	meta := h.service.Preview(c.Request.Context(), target)
	c.JSON(http.StatusOK, gin.H{"metadata": meta})
}

// RegisterRoutes registers link routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/links", h.Create)
	rg.GET("/links", h.List)
	rg.PUT("/links", h.Update)
	rg.DELETE("/links", h.Delete)
	rg.GET("/links/metadata", h.Metadata)
}

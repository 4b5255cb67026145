package importexport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/auth"
	"github.com/mikepea/linkstash/pkg/linkstash/links"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"go.uber.org/zap"
)

// Handler handles import/export requests
type Handler struct {
	links  *links.Service
	logger *zap.Logger
}

// NewHandler creates a new import/export handler
func NewHandler(service *links.Service, logger *zap.Logger) *Handler {
	return &Handler{links: service, logger: logger}
}

// PinboardBookmark represents a bookmark in Pinboard JSON format
type PinboardBookmark struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Tags        string `json:"tags"`
	Time        string `json:"time"`
	Shared      string `json:"shared"`
	ToRead      string `json:"toread"`
	Meta        string `json:"meta,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

// ImportRequest represents an import request
type ImportRequest struct {
	Bookmarks []PinboardBookmark `json:"bookmarks" binding:"required"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ExportBookmark represents a bookmark for export
type ExportBookmark struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Tags        string `json:"tags"`
	Time        string `json:"time"`
	Shared      string `json:"shared"`
	ToRead      string `json:"toread"`
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// Try alternative format
		parsed, err = time.Parse("2006-01-02T15:04:05Z", value)
	}
	return parsed, err
}

// bookmarkInput converts a Pinboard bookmark into link input.
// Pinboard tags are space separated.
func bookmarkInput(bookmark PinboardBookmark) (links.LinkInput, error) {
	createdAt, err := parseTime(bookmark.Time)
	if err != nil {
		return links.LinkInput{}, errors.New("invalid time format")
	}

	title := strings.TrimSpace(bookmark.Description)
	if title == "" {
		title = strings.TrimSpace(bookmark.Href)
	}
	isPublic := bookmark.Shared == "yes"

	return links.LinkInput{
		URL:         bookmark.Href,
		Title:       title,
		Description: bookmark.Extended,
		Tags:        strings.Fields(bookmark.Tags),
		IsPublic:    &isPublic,
		CreatedAt:   createdAt,
	}, nil
}

func linkToBookmark(link models.Link) ExportBookmark {
	tagNames := make([]string, len(link.Tags))
	for i, tag := range link.Tags {
		tagNames[i] = tag.Name
	}

	shared := "no"
	if link.IsPublic {
		shared = "yes"
	}

	return ExportBookmark{
		Href:        link.URL,
		Description: link.Title,
		Extended:    link.Description,
		Tags:        strings.Join(tagNames, " "),
		Time:        link.CreatedAt.UTC().Format(time.RFC3339),
		Shared:      shared,
		ToRead:      "no",
	}
}

// Import imports bookmarks from Pinboard JSON format.
// A bad bookmark is skipped and reported; the rest are still imported.
func (h *Handler) Import(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := ImportResult{
		Errors: []string{},
	}
	log := logging.FromContext(c, h.logger)

	for i, bookmark := range req.Bookmarks {
		in, err := bookmarkInput(bookmark)
		if err == nil {
			_, err = h.links.Create(c.Request.Context(), userID, in)
		}
		if err != nil {
			var validationErr *links.ValidationError
			if !errors.As(err, &validationErr) {
				log.Error("bookmark import failed", zap.Int("index", i), zap.Error(err))
			}
			result.Errors = append(result.Errors, "bookmark "+strconv.Itoa(i)+": "+err.Error())
			result.Skipped++
			continue
		}
		result.Imported++
	}

	log.Info("bookmarks imported",
		zap.Uint("user_id", userID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	c.JSON(http.StatusOK, result)
}

// Export exports all of the caller's bookmarks in Pinboard JSON format
func (h *Handler) Export(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	bookmarks := []ExportBookmark{}
	for offset := 0; ; offset += links.MaxListLimit {
		page, err := h.links.List(c.Request.Context(), userID, links.ListOptions{
			Tag:    c.Query("tag"),
			Limit:  links.MaxListLimit,
			Offset: offset,
		})
		if err != nil {
			logging.FromContext(c, h.logger).Error("export failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch links"})
			return
		}
		for _, link := range page {
			bookmarks = append(bookmarks, linkToBookmark(link))
		}
		if len(page) < links.MaxListLimit {
			break
		}
	}

	// Set content disposition for download
	if c.Query("download") == "true" {
		c.Header("Content-Disposition", "attachment; filename=linkstash-export.json")
	}

	c.JSON(http.StatusOK, bookmarks)
}

// RegisterRoutes registers import/export routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/import", h.Import)
	rg.GET("/export", h.Export)
}

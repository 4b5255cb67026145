package tags

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/linkstash/pkg/linkstash/auth"
	"github.com/mikepea/linkstash/pkg/linkstash/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles tag-related requests
type Handler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHandler creates a new tags handler
func NewHandler(db *gorm.DB, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// TagResponse represents a tag in API responses
type TagResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	LinkCount int    `json:"linkCount"`
}

// CountsForUser returns every tag attached to at least one of the user's
// links, with the number of such links.
func CountsForUser(ctx context.Context, db *gorm.DB, userID uint) ([]TagResponse, error) {
	var results []TagResponse
	err := db.WithContext(ctx).Table("tags").
		Select("tags.id, tags.name, COUNT(DISTINCT links.id) AS link_count").
		Joins("INNER JOIN link_tags ON tags.id = link_tags.tag_id").
		Joins("INNER JOIN links ON link_tags.link_id = links.id AND links.user_id = ?", userID).
		Group("tags.id, tags.name").
		Order("link_count DESC, tags.name ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// List returns the caller's tags with link counts
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	tags, err := CountsForUser(c.Request.Context(), h.db, userID)
	if err != nil {
		logging.FromContext(c, h.logger).Error("failed to fetch tags", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if tags == nil {
		tags = []TagResponse{}
	}

	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// RegisterRoutes registers tag routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tags", h.List)
}

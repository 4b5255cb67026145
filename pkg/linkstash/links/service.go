package links

//go:generate mockgen -destination=mock_fetcher_test.go -package=links . MetadataFetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"github.com/mikepea/linkstash/pkg/linkstash/scraper"
	"github.com/mikepea/linkstash/pkg/linkstash/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a link does not exist or belongs to someone else
var ErrNotFound = errors.New("link not found")

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

const (
	maxTitleLength       = 500
	maxDescriptionLength = 5000
	maxURLLength         = 2048

	defaultListLimit = 100
	// MaxListLimit is the largest page List returns
	MaxListLimit = 500
)

// MetadataFetcher extracts preview metadata for a URL.
// Implementations must not fail; a miss is an empty Metadata.
type MetadataFetcher interface {
	Scrape(ctx context.Context, url string) scraper.Metadata
}

// LinkInput carries the user-supplied fields for create and update
type LinkInput struct {
	URL         string
	Title       string
	Description string
	Tags        []string
	// IsPublic is left unchanged on update when nil
	IsPublic *bool
	// FetchMetadata backfills empty fields from the page before saving
	FetchMetadata bool
	// CreatedAt overrides the creation time on Create; zero means now
	CreatedAt time.Time
}

// ListOptions filters and pages a link listing
type ListOptions struct {
	// Tag restricts results to links with a tag of exactly this name
	Tag    string
	Query  string
	Limit  int
	Offset int
}

// Service creates, updates, deletes and lists links on behalf of their owner
type Service struct {
	db         *gorm.DB
	reconciler *tags.Reconciler
	fetcher    MetadataFetcher
	logger     *zap.Logger
}

// NewService creates a new links service
func NewService(db *gorm.DB, reconciler *tags.Reconciler, fetcher MetadataFetcher, logger *zap.Logger) *Service {
	return &Service{
		db:         db,
		reconciler: reconciler,
		fetcher:    fetcher,
		logger:     logger,
	}
}

func validateInput(in *LinkInput) error {
	in.URL = strings.TrimSpace(in.URL)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)

	if in.URL == "" {
		return &ValidationError{"URL is required"}
	}
	if utf8.RuneCountInString(in.URL) > maxURLLength {
		return &ValidationError{fmt.Sprintf("URL must be at most %d characters", maxURLLength)}
	}
	u, err := url.ParseRequestURI(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{"URL must be an absolute http or https URL"}
	}
	if in.Title == "" && !in.FetchMetadata {
		return &ValidationError{"Title is required"}
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return &ValidationError{fmt.Sprintf("Title must be at most %d characters", maxTitleLength)}
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return &ValidationError{fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength)}
	}
	if _, err := tags.NormalizeLabels(in.Tags); err != nil {
		return &ValidationError{err.Error()}
	}
	return nil
}

// enrich fills link fields the user left empty from scraped metadata.
// User-supplied values always win.
func enrich(link *models.Link, meta scraper.Metadata) {
	if link.Title == "" {
		link.Title = meta.Title
	}
	if link.Description == "" {
		link.Description = meta.Description
	}
	if meta.Image != "" {
		link.PreviewImage = meta.Image
	}
	if meta.SiteName != "" {
		link.SiteName = meta.SiteName
	}
	if meta.Favicon != "" {
		link.Favicon = meta.Favicon
	}
	if link.Title == "" {
		link.Title = link.URL
	}
}

// Preview scrapes url without storing anything
func (s *Service) Preview(ctx context.Context, url string) scraper.Metadata {
	if s.fetcher == nil {
		return scraper.Metadata{}
	}
	return s.fetcher.Scrape(ctx, url)
}

// scrape runs before any transaction is opened so a slow site never holds a
// database connection.
func (s *Service) scrape(ctx context.Context, in LinkInput) (scraper.Metadata, bool) {
	if !in.FetchMetadata || s.fetcher == nil {
		return scraper.Metadata{}, false
	}
	return s.fetcher.Scrape(ctx, in.URL), true
}

// Create stores a new link for ownerID with its tags in one transaction
func (s *Service) Create(ctx context.Context, ownerID uint, in LinkInput) (*models.Link, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	link := models.Link{
		UserID:      ownerID,
		URL:         in.URL,
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   in.CreatedAt,
	}
	if in.IsPublic != nil {
		link.IsPublic = *in.IsPublic
	}
	if meta, ok := s.scrape(ctx, in); ok {
		enrich(&link, meta)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		linkTags, err := s.reconciler.Reconcile(ctx, tx, in.Tags)
		if err != nil {
			return err
		}
		link.Tags = linkTags
		// Tags are already stored; only the join rows are written here
		if err := tx.Omit("User", "Tags.*").Create(&link).Error; err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.logger.Info("link created",
		zap.Uint("link_id", link.ID),
		zap.Uint("user_id", ownerID),
		zap.Int("tags", len(link.Tags)),
	)
	return s.Get(ctx, ownerID, link.ID)
}

// Update replaces the fields and the whole tag set of a link owned by ownerID.
// Tags removed from the link are left in place for other links.
func (s *Service) Update(ctx context.Context, ownerID, linkID uint, in LinkInput) (*models.Link, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	// Check ownership before doing any outbound work
	if _, err := s.find(ctx, s.db, ownerID, linkID); err != nil {
		return nil, err
	}
	meta, scraped := s.scrape(ctx, in)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := s.find(ctx, tx, ownerID, linkID)
		if err != nil {
			return err
		}

		link.URL = in.URL
		link.Title = in.Title
		link.Description = in.Description
		if in.IsPublic != nil {
			link.IsPublic = *in.IsPublic
		}
		if scraped {
			enrich(link, meta)
		}

		if err := tx.Model(link).Select("url", "title", "description", "preview_image", "site_name", "favicon", "is_public", "updated_at").
			Updates(link).Error; err != nil {
			return fmt.Errorf("update link: %w", err)
		}

		linkTags, err := s.reconciler.Reconcile(ctx, tx, in.Tags)
		if err != nil {
			return err
		}
		if err := tx.Model(link).Association("Tags").Replace(linkTags); err != nil {
			return fmt.Errorf("replace link tags: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	s.logger.Info("link updated", zap.Uint("link_id", linkID), zap.Uint("user_id", ownerID))
	return s.Get(ctx, ownerID, linkID)
}

// Delete removes a link owned by ownerID and its tag associations.
// Tag rows are kept even if no link uses them any more.
func (s *Service) Delete(ctx context.Context, ownerID, linkID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := s.find(ctx, tx, ownerID, linkID)
		if err != nil {
			return err
		}
		if err := tx.Model(link).Association("Tags").Clear(); err != nil {
			return fmt.Errorf("clear link tags: %w", err)
		}
		if err := tx.Delete(link).Error; err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}

	s.logger.Info("link deleted", zap.Uint("link_id", linkID), zap.Uint("user_id", ownerID))
	return nil
}

// Get returns a single link owned by ownerID with its tags
func (s *Service) Get(ctx context.Context, ownerID, linkID uint) (*models.Link, error) {
	var link models.Link
	err := s.db.WithContext(ctx).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.name") }).
		Preload("User").
		Where("id = ? AND user_id = ?", linkID, ownerID).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// List returns the owner's links, newest first
func (s *Service) List(ctx context.Context, ownerID uint, opts ListOptions) ([]models.Link, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Link{}).
		Preload("Tags", func(db *gorm.DB) *gorm.DB { return db.Order("tags.name") }).
		Preload("User").
		Where("links.user_id = ?", ownerID)

	if tag := strings.TrimSpace(opts.Tag); tag != "" {
		query = query.Where("EXISTS (?)",
			s.db.Table("link_tags").
				Select("1").
				Joins("JOIN tags ON tags.id = link_tags.tag_id").
				Where("link_tags.link_id = links.id AND tags.name = ?", tag))
	}

	if q := strings.TrimSpace(opts.Query); q != "" {
		searchTerm := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(links.title) LIKE ? OR LOWER(links.description) LIKE ? OR LOWER(links.url) LIKE ?",
			searchTerm, searchTerm, searchTerm)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var links []models.Link
	err := query.Order("links.created_at DESC").Order("links.id DESC").
		Limit(limit).Offset(offset).
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

// find is the ownership-scoped lookup: a link owned by someone else is
// indistinguishable from one that does not exist.
func (s *Service) find(ctx context.Context, db *gorm.DB, ownerID, linkID uint) (*models.Link, error) {
	var link models.Link
	err := db.WithContext(ctx).Where("id = ? AND user_id = ?", linkID, ownerID).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find link: %w", err)
	}
	return &link, nil
}

// classify maps reconciler validation failures onto ValidationError and
// passes everything else through.
func (s *Service) classify(err error) error {
	if errors.Is(err, tags.ErrInvalidTag) {
		return &ValidationError{err.Error()}
	}
	return err
}

package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxTagLength is the longest tag name accepted, in characters
const MaxTagLength = 64

// ErrInvalidTag is returned for labels that cannot become a tag name
var ErrInvalidTag = errors.New("invalid tag")

// Reconciler turns free-text labels into shared Tag rows,
// creating rows only for names that do not exist yet.
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a new tag reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// NormalizeLabels trims labels, drops empty ones and removes exact
// duplicates while keeping the order of first appearance.
// Case is preserved: "News" and "news" are different labels.
func NormalizeLabels(labels []string) ([]string, error) {
	seen := make(map[string]struct{}, len(labels))
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		name := strings.TrimSpace(label)
		if name == "" {
			continue
		}
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidTag, name)
		}
		if utf8.RuneCountInString(name) > MaxTagLength {
			return nil, fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidTag, name, MaxTagLength)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// Reconcile resolves labels to Tag rows using db, which may be a transaction.
// The result has one entry per distinct normalized label.
func (r *Reconciler) Reconcile(ctx context.Context, db *gorm.DB, labels []string) ([]models.Tag, error) {
	names, err := NormalizeLabels(labels)
	if err != nil {
		return nil, err
	}

	tags := make([]models.Tag, 0, len(names))
	for _, name := range names {
		tag, err := r.findOrCreate(ctx, db, name)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	return tags, nil
}

// findOrCreate returns the tag named name, inserting it if needed.
// A concurrent insert of the same name is absorbed by the unique index:
// our insert becomes a no-op and the winner's row is read back.
func (r *Reconciler) findOrCreate(ctx context.Context, db *gorm.DB, name string) (*models.Tag, error) {
	db = db.WithContext(ctx)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var tag models.Tag
		err := db.Where("name = ?", name).Take(&tag).Error
		if err == nil {
			return &tag, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("look up tag %q: %w", name, err)
		}

		tag = models.Tag{Name: name}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&tag)
		switch {
		case result.Error == nil && result.RowsAffected == 1 && tag.ID != 0:
			return &tag, nil
		case result.Error == nil:
			// lost the race; the row exists now
			r.logger.Debug("tag created concurrently, re-fetching", zap.String("tag", name))
		case errors.Is(result.Error, gorm.ErrDuplicatedKey):
			r.logger.Debug("duplicate tag insert, re-fetching", zap.String("tag", name))
		default:
			return nil, fmt.Errorf("create tag %q: %w", name, result.Error)
		}

		var existing models.Tag
		err = db.Where("name = ?", name).Take(&existing).Error
		if err == nil {
			return &existing, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("resolve tag %q: %w", name, lastErr)
}

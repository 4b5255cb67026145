package links

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mikepea/linkstash/pkg/linkstash/database"
	"github.com/mikepea/linkstash/pkg/linkstash/models"
	"github.com/mikepea/linkstash/pkg/linkstash/scraper"
	"github.com/mikepea/linkstash/pkg/linkstash/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestService(db *gorm.DB, fetcher MetadataFetcher) *Service {
	return NewService(db, tags.NewReconciler(zap.NewNop()), fetcher, zap.NewNop())
}

func createTestUser(t *testing.T, db *gorm.DB, email, name string) models.User {
	user := models.User{Email: email, PasswordHash: "hash", Name: name}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func linkTagNames(link *models.Link) []string {
	names := make([]string, len(link.Tags))
	for i, tag := range link.Tags {
		names[i] = tag.Name
	}
	return names
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	var count int64
	require.NoError(t, db.Table(table).Count(&count).Error)
	return count
}

func boolPtr(b bool) *bool { return &b }

func TestCreateAttachesTags(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:         " https://go.dev ",
		Title:       "Go",
		Description: "The Go site",
		Tags:        []string{"tech", "news", "tech", " "},
	})
	require.NoError(t, err)

	assert.NotZero(t, link.ID)
	assert.Equal(t, "https://go.dev", link.URL)
	assert.Equal(t, alice.ID, link.UserID)
	assert.Equal(t, "Alice", link.Owner().Name)
	assert.False(t, link.IsPublic)
	assert.Equal(t, []string{"news", "tech"}, linkTagNames(link))
	assert.EqualValues(t, 2, countRows(t, db, "link_tags"))
}

func TestCreateIsPublic(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:      "https://example.com",
		Title:    "Example",
		IsPublic: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, link.IsPublic)
}

func TestCreateValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	cases := map[string]LinkInput{
		"missing url":      {Title: "No URL"},
		"relative url":     {URL: "/path", Title: "Relative"},
		"unsupported url":  {URL: "ftp://example.com/file", Title: "FTP"},
		"missing title":    {URL: "https://example.com"},
		"long title":       {URL: "https://example.com", Title: strings.Repeat("t", maxTitleLength+1)},
		"invalid tag":      {URL: "https://example.com", Title: "Tagged", Tags: []string{strings.Repeat("x", tags.MaxTagLength+1)}},
		"whitespace title": {URL: "https://example.com", Title: "   "},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), alice.ID, in)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	assert.Zero(t, countRows(t, db, "links"))
	assert.Zero(t, countRows(t, db, "tags"))
}

func TestCreateCountsCharactersNotBytes(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	title := strings.Repeat("é", maxTitleLength)
	description := strings.Repeat("日", maxDescriptionLength)
	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:         "https://example.com/" + strings.Repeat("ü", 100),
		Title:       title,
		Description: description,
	})
	require.NoError(t, err)
	assert.Equal(t, title, link.Title)
	assert.Equal(t, description, link.Description)

	_, err = svc.Create(context.Background(), alice.ID, LinkInput{
		URL:   "https://example.com/long",
		Title: title + "é",
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "500 characters")
}

func TestCreateFetchesMetadataWhenRequested(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(db, fetcher)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	fetcher.EXPECT().
		Scrape(gomock.Any(), "https://blog.example.com/post").
		Return(scraper.Metadata{
			Title:       "Scraped title",
			Description: "Scraped description",
			Image:       "https://blog.example.com/cover.png",
			SiteName:    "Example Blog",
			Favicon:     "https://blog.example.com/favicon.ico",
		}).
		Times(1)

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:           "https://blog.example.com/post",
		Title:         "My own title",
		FetchMetadata: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "My own title", link.Title, "user-supplied title wins")
	assert.Equal(t, "Scraped description", link.Description)
	assert.Equal(t, "https://blog.example.com/cover.png", link.PreviewImage)
	assert.Equal(t, "Example Blog", link.SiteName)
	assert.Equal(t, "https://blog.example.com/favicon.ico", link.Favicon)
}

func TestCreateFallsBackToURLTitle(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(db, fetcher)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	fetcher.EXPECT().Scrape(gomock.Any(), gomock.Any()).Return(scraper.Metadata{})

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:           "https://unreachable.example.com",
		FetchMetadata: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://unreachable.example.com", link.Title)
	assert.Empty(t, link.PreviewImage)
}

func TestCreateDoesNotScrapeUnlessAsked(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	// No expectations: any Scrape call fails the test
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(db, fetcher)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	_, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:   "https://example.com",
		Title: "Example",
	})
	require.NoError(t, err)
}

func TestUpdateReplacesTagSet(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	ctx := context.Background()

	link, err := svc.Create(ctx, alice.ID, LinkInput{
		URL:   "https://example.com",
		Title: "Example",
		Tags:  []string{"news", "tech"},
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, alice.ID, link.ID, LinkInput{
		URL:         "https://example.com/v2",
		Title:       "Example v2",
		Description: "Now with a description",
		Tags:        []string{"tech", "golang"},
	})
	require.NoError(t, err)

	assert.Equal(t, link.ID, updated.ID)
	assert.Equal(t, "https://example.com/v2", updated.URL)
	assert.Equal(t, "Example v2", updated.Title)
	assert.Equal(t, "Now with a description", updated.Description)
	assert.Equal(t, []string{"golang", "tech"}, linkTagNames(updated))
	assert.EqualValues(t, 2, countRows(t, db, "link_tags"))

	// Removed tags stay as rows for other links to use
	var news models.Tag
	assert.NoError(t, db.Where("name = ?", "news").Take(&news).Error)

	cleared, err := svc.Update(ctx, alice.ID, link.ID, LinkInput{
		URL:   "https://example.com/v2",
		Title: "Example v2",
	})
	require.NoError(t, err)
	assert.Empty(t, cleared.Tags)
	assert.Zero(t, countRows(t, db, "link_tags"))
}

func TestUpdateIsPublicOnlyWhenSupplied(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	ctx := context.Background()

	link, err := svc.Create(ctx, alice.ID, LinkInput{URL: "https://example.com", Title: "Example", IsPublic: boolPtr(true)})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, alice.ID, link.ID, LinkInput{URL: "https://example.com", Title: "Renamed"})
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)

	updated, err = svc.Update(ctx, alice.ID, link.ID, LinkInput{URL: "https://example.com", Title: "Renamed", IsPublic: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, updated.IsPublic)
}

func TestUpdateKeepsPreviewWithoutFetch(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(db, fetcher)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	ctx := context.Background()

	fetcher.EXPECT().Scrape(gomock.Any(), gomock.Any()).
		Return(scraper.Metadata{Image: "https://example.com/cover.png"}).
		Times(1)

	link, err := svc.Create(ctx, alice.ID, LinkInput{URL: "https://example.com", Title: "Example", FetchMetadata: true})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, alice.ID, link.ID, LinkInput{URL: "https://example.com", Title: "Example"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cover.png", updated.PreviewImage)
}

func TestOwnershipIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctrl := gomock.NewController(t)
	// A foreign update must be rejected before any scrape happens
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(db, fetcher)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	bob := createTestUser(t, db, "bob@x.com", "Bob")
	ctx := context.Background()

	link, err := svc.Create(ctx, alice.ID, LinkInput{URL: "https://example.com", Title: "Alice's", Tags: []string{"private"}})
	require.NoError(t, err)

	_, err = svc.Update(ctx, bob.ID, link.ID, LinkInput{URL: "https://evil.example.com", Title: "Bob's now", FetchMetadata: true})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, alice.ID, link.ID+100, LinkInput{URL: "https://example.com", Title: "Missing"})
	assert.ErrorIs(t, err, ErrNotFound, "foreign and missing ids are indistinguishable")

	assert.ErrorIs(t, svc.Delete(ctx, bob.ID, link.ID), ErrNotFound)

	_, err = svc.Get(ctx, bob.ID, link.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	bobLinks, err := svc.List(ctx, bob.ID, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, bobLinks)

	stored, err := svc.Get(ctx, alice.ID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice's", stored.Title)
	assert.Equal(t, []string{"private"}, linkTagNames(stored))
}

func TestDeleteRemovesLinkAndAssociations(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	ctx := context.Background()

	link, err := svc.Create(ctx, alice.ID, LinkInput{URL: "https://example.com", Title: "Example", Tags: []string{"tech"}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, alice.ID, link.ID))

	_, err = svc.Get(ctx, alice.ID, link.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, db, "links"))
	assert.Zero(t, countRows(t, db, "link_tags"))
	assert.EqualValues(t, 1, countRows(t, db, "tags"), "tag rows outlive their links")

	assert.ErrorIs(t, svc.Delete(ctx, alice.ID, link.ID), ErrNotFound)
}

func TestListFiltersAndOrders(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	bob := createTestUser(t, db, "bob@x.com", "Bob")
	ctx := context.Background()

	mustCreate := func(owner uint, title string, tagNames ...string) {
		_, err := svc.Create(ctx, owner, LinkInput{
			URL:   "https://example.com/" + strings.ToLower(title),
			Title: title,
			Tags:  tagNames,
		})
		require.NoError(t, err)
	}
	mustCreate(alice.ID, "First", "news")
	mustCreate(alice.ID, "Second", "tech", "news")
	mustCreate(alice.ID, "Third", "News")
	mustCreate(bob.ID, "Bobs", "news")

	all, err := svc.List(ctx, alice.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Third", all[0].Title, "newest first")
	assert.Equal(t, "First", all[2].Title)
	assert.Equal(t, "Alice", all[0].Owner().Name)

	news, err := svc.List(ctx, alice.ID, ListOptions{Tag: "news"})
	require.NoError(t, err)
	require.Len(t, news, 2)
	assert.Equal(t, "Second", news[0].Title)
	// The filter must not drop the link's other tags
	assert.Equal(t, []string{"news", "tech"}, linkTagNames(&news[0]))

	capital, err := svc.List(ctx, alice.ID, ListOptions{Tag: "News"})
	require.NoError(t, err)
	require.Len(t, capital, 1)
	assert.Equal(t, "Third", capital[0].Title)

	none, err := svc.List(ctx, alice.ID, ListOptions{Tag: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, none)

	search, err := svc.List(ctx, alice.ID, ListOptions{Query: "SEC"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "Second", search[0].Title)

	page, err := svc.List(ctx, alice.ID, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Second", page[0].Title)
}

func TestConcurrentCreatesShareTag(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), alice.ID, LinkInput{
				URL:   fmt.Sprintf("https://example.com/%d", i),
				Title: fmt.Sprintf("Link %d", i),
				Tags:  []string{"shared", fmt.Sprintf("own-%d", i)},
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	var shared int64
	require.NoError(t, db.Model(&models.Tag{}).Where("name = ?", "shared").Count(&shared).Error)
	assert.EqualValues(t, 1, shared)
	assert.EqualValues(t, workers+1, countRows(t, db, "tags"))
	assert.EqualValues(t, workers*2, countRows(t, db, "link_tags"))
}

// A file database behind a real connection pool, as the server runs it
func TestConcurrentCreatesOnPooledFileDatabase(t *testing.T) {
	db, err := database.Open(database.Options{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "linkstash.db"),
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, models.AutoMigrate(db))

	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), alice.ID, LinkInput{
				URL:   fmt.Sprintf("https://example.com/paper/%d", i),
				Title: fmt.Sprintf("Paper %d", i),
				Tags:  []string{"research"},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "create %d", i)
	}

	var research int64
	require.NoError(t, db.Model(&models.Tag{}).Where("name = ?", "research").Count(&research).Error)
	assert.EqualValues(t, 1, research)
	assert.EqualValues(t, workers, countRows(t, db, "links"))
	assert.EqualValues(t, workers, countRows(t, db, "link_tags"))
}

func TestCreateRollsBackOnStorageError(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")
	require.NoError(t, db.Migrator().DropTable("link_tags"))

	_, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:   "https://example.com",
		Title: "Example",
		Tags:  []string{"tech"},
	})
	require.Error(t, err)
	var validationErr *ValidationError
	assert.False(t, errors.As(err, &validationErr))

	assert.Zero(t, countRows(t, db, "links"))
	assert.Zero(t, countRows(t, db, "tags"), "tags created in a failed transaction are rolled back")
}

func TestUpdateRollsBackOnStorageError(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:   "https://example.com/old",
		Title: "old",
		Tags:  []string{"a"},
	})
	require.NoError(t, err)

	// Fail the join-table write so the tag replacement errors after the
	// link row and the new tag have been written inside the transaction.
	var failJoin atomic.Bool
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_link_tags", func(tx *gorm.DB) {
		if failJoin.Load() && tx.Statement.Table == "link_tags" {
			tx.AddError(errors.New("link_tags unavailable"))
		}
	}))
	failJoin.Store(true)

	_, err = svc.Update(context.Background(), alice.ID, link.ID, LinkInput{
		URL:   "https://example.com/new",
		Title: "new",
		Tags:  []string{"b"},
	})
	require.Error(t, err)
	var validationErr *ValidationError
	assert.False(t, errors.As(err, &validationErr))
	failJoin.Store(false)

	got, err := svc.Get(context.Background(), alice.ID, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Title)
	assert.Equal(t, "https://example.com/old", got.URL)
	assert.Equal(t, []string{"a"}, linkTagNames(got))

	var b int64
	require.NoError(t, db.Model(&models.Tag{}).Where("name = ?", "b").Count(&b).Error)
	assert.Zero(t, b, "tags created in a failed transaction are rolled back")
}

func TestUpdateRollsBackWhenJoinTableIsMissing(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db, nil)
	alice := createTestUser(t, db, "alice@x.com", "Alice")

	link, err := svc.Create(context.Background(), alice.ID, LinkInput{
		URL:   "https://example.com/old",
		Title: "old",
		Tags:  []string{"a"},
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable("link_tags"))

	_, err = svc.Update(context.Background(), alice.ID, link.ID, LinkInput{
		URL:   "https://example.com/old",
		Title: "new",
		Tags:  []string{"b"},
	})
	require.Error(t, err)

	var row models.Link
	require.NoError(t, db.First(&row, link.ID).Error)
	assert.Equal(t, "old", row.Title)
	assert.Equal(t, "https://example.com/old", row.URL)

	var names []string
	require.NoError(t, db.Model(&models.Tag{}).Order("name").Pluck("name", &names).Error)
	assert.Equal(t, []string{"a"}, names)
}

func TestPreviewDelegatesToFetcher(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := NewMockMetadataFetcher(ctrl)
	svc := newTestService(setupTestDB(t), fetcher)

	want := scraper.Metadata{Title: "Preview"}
	fetcher.EXPECT().Scrape(gomock.Any(), "https://example.com").Return(want)

	assert.Equal(t, want, svc.Preview(context.Background(), "https://example.com"))
	assert.True(t, newTestService(setupTestDB(t), nil).Preview(context.Background(), "https://example.com").IsEmpty())
}

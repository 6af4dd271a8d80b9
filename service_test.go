package sitehost_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sagarc03/sitehost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type SpySiteRepo struct {
	mock.Mock
}

func (s *SpySiteRepo) Get(ctx context.Context, name string) (sitehost.Site, error) {
	args := s.Called(ctx, name)
	return args.Get(0).(sitehost.Site), args.Error(1)
}

func (s *SpySiteRepo) List(ctx context.Context, q sitehost.ListQuery) (sitehost.ListResult, error) {
	args := s.Called(ctx, q)
	return args.Get(0).(sitehost.ListResult), args.Error(1)
}

func (s *SpySiteRepo) Create(ctx context.Context, ns sitehost.NewSite) (sitehost.Site, error) {
	args := s.Called(ctx, ns)
	return args.Get(0).(sitehost.Site), args.Error(1)
}

func (s *SpySiteRepo) Delete(ctx context.Context, name string) error {
	args := s.Called(ctx, name)
	return args.Error(0)
}

func (s *SpySiteRepo) UpdateAuth(ctx context.Context, name string, auth *sitehost.BasicAuth) (sitehost.Site, error) {
	args := s.Called(ctx, name, auth)
	return args.Get(0).(sitehost.Site), args.Error(1)
}

func (s *SpySiteRepo) UpdateUsedBytes(ctx context.Context, name string, used int64) error {
	args := s.Called(ctx, name, used)
	return args.Error(0)
}

type SpyFileStorage struct {
	mock.Mock
}

func (s *SpyFileStorage) CreateSiteDir(ctx context.Context, name string) (string, error) {
	args := s.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (s *SpyFileStorage) RemoveSiteDir(ctx context.Context, name string) error {
	args := s.Called(ctx, name)
	return args.Error(0)
}

func (s *SpyFileStorage) Stage(ctx context.Context, site string, content io.Reader, limit int64) (sitehost.StagedFile, error) {
	args := s.Called(ctx, site, content, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(sitehost.StagedFile), args.Error(1)
}

func (s *SpyFileStorage) Stat(ctx context.Context, site, path string) (sitehost.FileInfo, error) {
	args := s.Called(ctx, site, path)
	return args.Get(0).(sitehost.FileInfo), args.Error(1)
}

func (s *SpyFileStorage) Delete(ctx context.Context, site, path string) error {
	args := s.Called(ctx, site, path)
	return args.Error(0)
}

func (s *SpyFileStorage) List(ctx context.Context, site, prefix string) ([]sitehost.FileInfo, error) {
	args := s.Called(ctx, site, prefix)
	return args.Get(0).([]sitehost.FileInfo), args.Error(1)
}

func (s *SpyFileStorage) DiskUsage(ctx context.Context, site string) (int64, int, error) {
	args := s.Called(ctx, site)
	return args.Get(0).(int64), args.Int(1), args.Error(2)
}

type SpyStagedFile struct {
	mock.Mock
	size int64
	etag string
}

func (s *SpyStagedFile) Size() int64  { return s.size }
func (s *SpyStagedFile) ETag() string { return s.etag }

func (s *SpyStagedFile) Commit(ctx context.Context, path string) error {
	args := s.Called(ctx, path)
	return args.Error(0)
}

func (s *SpyStagedFile) Discard() error {
	args := s.Called()
	return args.Error(0)
}

type SpyProxySyncer struct {
	mock.Mock
	forgotten []string
}

func (s *SpyProxySyncer) Put(ctx context.Context, site sitehost.Site) error {
	args := s.Called(ctx, site)
	return args.Error(0)
}

func (s *SpyProxySyncer) Remove(ctx context.Context, name string) error {
	args := s.Called(ctx, name)
	return args.Error(0)
}

func (s *SpyProxySyncer) Sync(ctx context.Context) error {
	args := s.Called(ctx)
	return args.Error(0)
}

func (s *SpyProxySyncer) Forget(name string) {
	s.forgotten = append(s.forgotten, name)
}

const testQuota = 1000

func NewSiteService(t *testing.T) (*sitehost.SiteService, *SpySiteRepo, *SpyFileStorage, *SpyProxySyncer) {
	t.Helper()
	repo := new(SpySiteRepo)
	storage := new(SpyFileStorage)
	syncer := new(SpyProxySyncer)
	s, err := sitehost.NewSiteService(repo, storage, syncer, sitehost.ServiceConfig{
		DefaultQuota:   testQuota,
		CleanupTimeout: time.Second,
		BcryptCost:     bcrypt.MinCost,
	})
	require.NoError(t, err, "new site service")
	return s, repo, storage, syncer
}

func blogSite() sitehost.Site {
	return sitehost.Site{
		ID:         uuid.New(),
		Name:       "blog",
		Root:       "/srv/sites/blog",
		QuotaBytes: testQuota,
		UsedBytes:  100,
	}
}

var errProxyDown = fmt.Errorf("proxy put: %w", sitehost.ErrProxySync)

func TestNewSiteService_Validation(t *testing.T) {
	_, err := sitehost.NewSiteService(nil, new(SpyFileStorage), new(SpyProxySyncer), sitehost.ServiceConfig{DefaultQuota: 1})
	assert.Error(t, err)

	_, err = sitehost.NewSiteService(new(SpySiteRepo), new(SpyFileStorage), new(SpyProxySyncer), sitehost.ServiceConfig{})
	assert.Error(t, err)
}

func TestSiteService_CreateSite(t *testing.T) {
	t.Run("success with default quota", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()

		repo.On("Get", ctx, "blog").Return(sitehost.Site{}, sitehost.ErrNotFound).Once()
		storage.On("CreateSiteDir", ctx, "blog").Return("/srv/sites/blog", nil)
		repo.On("Create", ctx, sitehost.NewSite{Name: "blog", Root: "/srv/sites/blog", QuotaBytes: testQuota}).Return(site, nil)
		syncer.On("Put", ctx, site).Return(nil)

		got, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		require.NoError(t, err)
		assert.Equal(t, site, got)

		repo.AssertExpectations(t)
		storage.AssertExpectations(t)
		syncer.AssertExpectations(t)
	})

	t.Run("hashes basic auth password", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()

		var created sitehost.NewSite
		repo.On("Get", ctx, "docs").Return(sitehost.Site{}, sitehost.ErrNotFound)
		storage.On("CreateSiteDir", ctx, "docs").Return("/srv/sites/docs", nil)
		repo.On("Create", ctx, mock.AnythingOfType("sitehost.NewSite")).
			Run(func(args mock.Arguments) { created = args.Get(1).(sitehost.NewSite) }).
			Return(sitehost.Site{Name: "docs"}, nil)
		syncer.On("Put", ctx, mock.Anything).Return(nil)

		_, err := service.CreateSite(ctx, sitehost.CreateSite{
			Name:       "docs",
			QuotaBytes: 5000,
			Auth:       &sitehost.Credentials{Username: "alice", Password: "correct horse"},
		})
		require.NoError(t, err)

		assert.Equal(t, int64(5000), created.QuotaBytes)
		require.NotNil(t, created.Auth)
		assert.Equal(t, "alice", created.Auth.Username)
		assert.NotEqual(t, "correct horse", created.Auth.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.Auth.PasswordHash), []byte("correct horse")))
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "Blog", "my_site", "-lead", "trail-", "a.b", strings.Repeat("a", 64)} {
			t.Run(name, func(t *testing.T) {
				service, repo, storage, syncer := NewSiteService(t)

				_, err := service.CreateSite(context.Background(), sitehost.CreateSite{Name: name})
				assert.ErrorIs(t, err, sitehost.ErrInvalidInput)

				repo.AssertNotCalled(t, "Create")
				storage.AssertNotCalled(t, "CreateSiteDir")
				syncer.AssertNotCalled(t, "Put")
			})
		}
	})

	t.Run("weak password", func(t *testing.T) {
		service, repo, _, _ := NewSiteService(t)

		_, err := service.CreateSite(context.Background(), sitehost.CreateSite{
			Name: "docs",
			Auth: &sitehost.Credentials{Username: "alice", Password: "short"},
		})
		assert.ErrorIs(t, err, sitehost.ErrInvalidInput)
		repo.AssertNotCalled(t, "Get")
	})

	t.Run("negative quota", func(t *testing.T) {
		service, _, _, _ := NewSiteService(t)

		_, err := service.CreateSite(context.Background(), sitehost.CreateSite{Name: "docs", QuotaBytes: -1})
		assert.ErrorIs(t, err, sitehost.ErrInvalidInput)
	})

	t.Run("already exists", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)

		_, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		assert.ErrorIs(t, err, sitehost.ErrConflict)
		storage.AssertNotCalled(t, "CreateSiteDir")
	})

	t.Run("registry insert fails removes directory", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(sitehost.Site{}, sitehost.ErrNotFound)
		storage.On("CreateSiteDir", ctx, "blog").Return("/srv/sites/blog", nil)
		repo.On("Create", ctx, mock.Anything).Return(sitehost.Site{}, sitehost.ErrConflict)
		storage.On("RemoveSiteDir", mock.Anything, "blog").Return(nil)

		_, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		assert.ErrorIs(t, err, sitehost.ErrConflict)

		storage.AssertExpectations(t)
		syncer.AssertNotCalled(t, "Put")
	})

	t.Run("proxy failure rolls back row and directory", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()

		repo.On("Get", ctx, "blog").Return(sitehost.Site{}, sitehost.ErrNotFound)
		storage.On("CreateSiteDir", ctx, "blog").Return(site.Root, nil)
		repo.On("Create", ctx, mock.Anything).Return(site, nil)
		syncer.On("Put", ctx, site).Return(errProxyDown)
		syncer.On("Remove", mock.Anything, "blog").Return(nil)
		repo.On("Delete", mock.Anything, "blog").Return(nil)
		storage.On("RemoveSiteDir", mock.Anything, "blog").Return(nil)

		_, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		assert.ErrorIs(t, err, sitehost.ErrProxySync)

		repo.AssertCalled(t, "Delete", mock.Anything, "blog")
		storage.AssertCalled(t, "RemoveSiteDir", mock.Anything, "blog")
		syncer.AssertCalled(t, "Remove", mock.Anything, "blog")
	})

	t.Run("rollback failures are not returned", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()

		repo.On("Get", ctx, "blog").Return(sitehost.Site{}, sitehost.ErrNotFound)
		storage.On("CreateSiteDir", ctx, "blog").Return(site.Root, nil)
		repo.On("Create", ctx, mock.Anything).Return(site, nil)
		syncer.On("Put", ctx, site).Return(errProxyDown)
		syncer.On("Remove", mock.Anything, "blog").Return(errProxyDown)
		repo.On("Delete", mock.Anything, "blog").Return(errors.New("db gone"))
		storage.On("RemoveSiteDir", mock.Anything, "blog").Return(errors.New("busy"))

		_, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		assert.ErrorIs(t, err, sitehost.ErrProxySync)
		assert.NotContains(t, err.Error(), "db gone")
	})

	t.Run("cancelled context", func(t *testing.T) {
		service, repo, _, _ := NewSiteService(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := service.CreateSite(ctx, sitehost.CreateSite{Name: "blog"})
		assert.ErrorIs(t, err, context.Canceled)
		repo.AssertNotCalled(t, "Get")
	})
}

func TestSiteService_GetSite(t *testing.T) {
	t.Run("invalid name is not found", func(t *testing.T) {
		service, repo, _, _ := NewSiteService(t)

		_, err := service.GetSite(context.Background(), "../etc")
		assert.ErrorIs(t, err, sitehost.ErrNotFound)
		repo.AssertNotCalled(t, "Get")
	})

	t.Run("found", func(t *testing.T) {
		service, repo, _, _ := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()

		repo.On("Get", ctx, "blog").Return(site, nil)

		got, err := service.GetSite(ctx, "blog")
		require.NoError(t, err)
		assert.Equal(t, site, got)
	})
}

func TestSiteService_ListSites(t *testing.T) {
	service, repo, _, _ := NewSiteService(t)
	ctx := context.Background()
	q := sitehost.ListQuery{Prefix: "b", Limit: 10}
	want := sitehost.ListResult{Items: []sitehost.Site{blogSite()}, NextCursor: "next"}

	repo.On("List", ctx, q).Return(want, nil)

	got, err := service.ListSites(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSiteService_DeleteSite(t *testing.T) {
	t.Run("removes route then row then directory", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()

		var order []string
		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		syncer.On("Remove", ctx, "blog").Run(func(mock.Arguments) { order = append(order, "route") }).Return(nil)
		repo.On("Delete", ctx, "blog").Run(func(mock.Arguments) { order = append(order, "row") }).Return(nil)
		storage.On("RemoveSiteDir", ctx, "blog").Run(func(mock.Arguments) { order = append(order, "dir") }).Return(nil)

		require.NoError(t, service.DeleteSite(ctx, "blog"))
		assert.Equal(t, []string{"route", "row", "dir"}, order)
		assert.Equal(t, []string{"blog"}, syncer.forgotten)
	})

	t.Run("proxy failure leaves site intact", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		syncer.On("Remove", ctx, "blog").Return(errProxyDown)

		err := service.DeleteSite(ctx, "blog")
		assert.ErrorIs(t, err, sitehost.ErrProxySync)

		repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "RemoveSiteDir", mock.Anything, mock.Anything)
	})

	t.Run("registry failure restores route", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()

		repo.On("Get", ctx, "blog").Return(site, nil)
		syncer.On("Remove", ctx, "blog").Return(nil)
		repo.On("Delete", ctx, "blog").Return(errors.New("db locked"))
		syncer.On("Put", mock.Anything, site).Return(nil)

		err := service.DeleteSite(ctx, "blog")
		assert.ErrorContains(t, err, "db locked")

		syncer.AssertCalled(t, "Put", mock.Anything, site)
		storage.AssertNotCalled(t, "RemoveSiteDir", mock.Anything, mock.Anything)
		assert.Empty(t, syncer.forgotten)
	})

	t.Run("directory failure is logged only", func(t *testing.T) {
		service, repo, storage, syncer := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		syncer.On("Remove", ctx, "blog").Return(nil)
		repo.On("Delete", ctx, "blog").Return(nil)
		storage.On("RemoveSiteDir", ctx, "blog").Return(errors.New("permission denied"))

		assert.NoError(t, service.DeleteSite(ctx, "blog"))
	})

	t.Run("not found", func(t *testing.T) {
		service, repo, _, syncer := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "ghost").Return(sitehost.Site{}, sitehost.ErrNotFound)

		err := service.DeleteSite(ctx, "ghost")
		assert.ErrorIs(t, err, sitehost.ErrNotFound)
		syncer.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
	})
}

func TestSiteService_SetAuth(t *testing.T) {
	t.Run("stores hash and refreshes route", func(t *testing.T) {
		service, repo, _, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		updated := site
		updated.Auth = &sitehost.BasicAuth{Username: "bob", PasswordHash: "stored"}

		repo.On("Get", ctx, "blog").Return(site, nil)
		repo.On("UpdateAuth", ctx, "blog", mock.MatchedBy(func(a *sitehost.BasicAuth) bool {
			return a != nil && a.Username == "bob" && bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte("hunter2hunter2")) == nil
		})).Return(updated, nil)
		syncer.On("Put", ctx, updated).Return(nil)

		got, err := service.SetAuth(ctx, "blog", sitehost.Credentials{Username: "bob", Password: "hunter2hunter2"})
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("proxy failure restores previous credential", func(t *testing.T) {
		service, repo, _, syncer := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		site.Auth = &sitehost.BasicAuth{Username: "old", PasswordHash: "oldhash"}
		updated := site
		updated.Auth = &sitehost.BasicAuth{Username: "bob", PasswordHash: "new"}

		repo.On("Get", ctx, "blog").Return(site, nil)
		repo.On("UpdateAuth", ctx, "blog", mock.MatchedBy(func(a *sitehost.BasicAuth) bool { return a != nil && a.Username == "bob" })).Return(updated, nil)
		syncer.On("Put", ctx, updated).Return(errProxyDown)
		repo.On("UpdateAuth", mock.Anything, "blog", site.Auth).Return(site, nil)
		syncer.On("Put", mock.Anything, site).Return(nil)

		_, err := service.SetAuth(ctx, "blog", sitehost.Credentials{Username: "bob", Password: "hunter2hunter2"})
		assert.ErrorIs(t, err, sitehost.ErrProxySync)

		repo.AssertCalled(t, "UpdateAuth", mock.Anything, "blog", site.Auth)
		syncer.AssertCalled(t, "Put", mock.Anything, site)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		service, repo, _, _ := NewSiteService(t)

		_, err := service.SetAuth(context.Background(), "blog", sitehost.Credentials{Username: "", Password: "longenough"})
		assert.ErrorIs(t, err, sitehost.ErrInvalidInput)
		repo.AssertNotCalled(t, "UpdateAuth")
	})
}

func TestSiteService_ClearAuth(t *testing.T) {
	service, repo, _, syncer := NewSiteService(t)
	ctx := context.Background()
	site := blogSite()
	site.Auth = &sitehost.BasicAuth{Username: "old", PasswordHash: "oldhash"}
	cleared := site
	cleared.Auth = nil

	repo.On("Get", ctx, "blog").Return(site, nil)
	repo.On("UpdateAuth", ctx, "blog", (*sitehost.BasicAuth)(nil)).Return(cleared, nil)
	syncer.On("Put", ctx, cleared).Return(nil)

	got, err := service.ClearAuth(ctx, "blog")
	require.NoError(t, err)
	assert.Nil(t, got.Auth)
}

func TestSiteService_Upload(t *testing.T) {
	t.Run("new file", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		body := strings.NewReader("hello")
		staged := &SpyStagedFile{size: 5, etag: "etag5"}

		repo.On("Get", ctx, "blog").Return(site, nil)
		storage.On("Stat", ctx, "blog", "docs/index.html").Return(sitehost.FileInfo{}, sitehost.ErrNotFound)
		storage.On("Stage", ctx, "blog", body, int64(testQuota-100)).Return(staged, nil)
		staged.On("Commit", ctx, "docs/index.html").Return(nil)
		staged.On("Discard").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(105)).Return(nil)

		got, err := service.Upload(ctx, "blog", "docs/./index.html", body)
		require.NoError(t, err)

		assert.Equal(t, "docs/index.html", got.File.Path)
		assert.Equal(t, int64(5), got.File.Size)
		assert.Equal(t, "etag5", got.File.ETag)
		assert.False(t, got.Replaced)
		assert.Equal(t, int64(105), got.UsedBytes)
		assert.Equal(t, int64(testQuota), got.QuotaBytes)

		staged.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("overwrite charges only the delta", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		staged := &SpyStagedFile{size: 30}

		repo.On("Get", ctx, "blog").Return(site, nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{Path: "a.txt", Size: 80}, nil)
		storage.On("Stage", ctx, "blog", mock.Anything, int64(testQuota-100+80)).Return(staged, nil)
		staged.On("Commit", ctx, "a.txt").Return(nil)
		staged.On("Discard").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(50)).Return(nil)

		got, err := service.Upload(ctx, "blog", "a.txt", strings.NewReader(""))
		require.NoError(t, err)
		assert.True(t, got.Replaced)
		assert.Equal(t, int64(50), got.UsedBytes)
	})

	t.Run("path escape rejected before any storage call", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)

		for _, p := range []string{"../other/index.html", "/etc/passwd", "a/../../x", "x\x00y"} {
			_, err := service.Upload(ctx, "blog", p, strings.NewReader("x"))
			assert.ErrorIs(t, err, sitehost.ErrPathRejected, p)
		}

		storage.AssertNotCalled(t, "Stat", mock.Anything, mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("directory target is invalid", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)

		for _, p := range []string{"", ".", "assets/"} {
			_, err := service.Upload(ctx, "blog", p, strings.NewReader("x"))
			assert.ErrorIs(t, err, sitehost.ErrInvalidInput, p)
		}
		storage.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("content beyond headroom is a quota error", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "big.bin").Return(sitehost.FileInfo{}, sitehost.ErrNotFound)
		storage.On("Stage", ctx, "blog", mock.Anything, int64(testQuota-100)).Return(nil, fmt.Errorf("stage: %w", sitehost.ErrTooLarge))

		_, err := service.Upload(ctx, "blog", "big.bin", strings.NewReader("..."))
		require.ErrorIs(t, err, sitehost.ErrQuotaExceeded)

		var qe *sitehost.QuotaError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, int64(100), qe.Used)
		assert.Equal(t, int64(testQuota), qe.Quota)
		repo.AssertNotCalled(t, "UpdateUsedBytes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reservation rejected discards staged file", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		site.UsedBytes = testQuota
		staged := &SpyStagedFile{size: 1}

		repo.On("Get", ctx, "blog").Return(site, nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{}, sitehost.ErrNotFound)
		storage.On("Stage", ctx, "blog", mock.Anything, int64(0)).Return(staged, nil)
		staged.On("Discard").Return(nil)

		_, err := service.Upload(ctx, "blog", "a.txt", strings.NewReader("x"))
		assert.ErrorIs(t, err, sitehost.ErrQuotaExceeded)

		staged.AssertCalled(t, "Discard")
		staged.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("rename failure rolls back reservation", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()
		site := blogSite()
		site.UsedBytes = testQuota - 10

		failing := &SpyStagedFile{size: 10}
		repo.On("Get", ctx, "blog").Return(site, nil)
		storage.On("Stat", ctx, "blog", mock.Anything).Return(sitehost.FileInfo{}, sitehost.ErrNotFound)
		storage.On("Stage", ctx, "blog", mock.Anything, int64(10)).Return(failing, nil).Once()
		failing.On("Commit", ctx, "a.txt").Return(errors.New("rename: no space left"))
		failing.On("Discard").Return(nil)

		_, err := service.Upload(ctx, "blog", "a.txt", strings.NewReader("0123456789"))
		assert.ErrorIs(t, err, sitehost.ErrStorageIO)
		repo.AssertNotCalled(t, "UpdateUsedBytes", mock.Anything, mock.Anything, mock.Anything)

		// the reservation was released, so the same bytes fit again
		ok := &SpyStagedFile{size: 10}
		storage.On("Stage", ctx, "blog", mock.Anything, int64(10)).Return(ok, nil).Once()
		ok.On("Commit", ctx, "b.txt").Return(nil)
		ok.On("Discard").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(testQuota)).Return(nil)

		_, err = service.Upload(ctx, "blog", "b.txt", strings.NewReader("0123456789"))
		assert.NoError(t, err)
	})

	t.Run("staging failure is a storage error", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{}, sitehost.ErrNotFound)
		storage.On("Stage", ctx, "blog", mock.Anything, mock.Anything).Return(nil, errors.New("disk on fire"))

		_, err := service.Upload(ctx, "blog", "a.txt", strings.NewReader("x"))
		assert.ErrorIs(t, err, sitehost.ErrStorageIO)
	})

	t.Run("unknown old size charges full size", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()
		staged := &SpyStagedFile{size: 40}

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{}, errors.New("i/o timeout"))
		storage.On("Stage", ctx, "blog", mock.Anything, int64(testQuota-100)).Return(staged, nil)
		staged.On("Commit", ctx, "a.txt").Return(nil)
		staged.On("Discard").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(140)).Return(nil)

		got, err := service.Upload(ctx, "blog", "a.txt", strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, int64(140), got.UsedBytes)
	})

	t.Run("unknown site", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "ghost").Return(sitehost.Site{}, sitehost.ErrNotFound)

		_, err := service.Upload(ctx, "ghost", "a.txt", strings.NewReader("x"))
		assert.ErrorIs(t, err, sitehost.ErrNotFound)
		storage.AssertNotCalled(t, "Stage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSiteService_DeleteFile(t *testing.T) {
	t.Run("releases bytes", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "a/b.txt").Return(sitehost.FileInfo{Path: "a/b.txt", Size: 60}, nil)
		storage.On("Delete", ctx, "blog", "a/b.txt").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(40)).Return(nil)

		u, err := service.DeleteFile(ctx, "blog", "a//b.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(40), u.UsedBytes)
	})

	t.Run("release floors at zero", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{Size: 500}, nil)
		storage.On("Delete", ctx, "blog", "a.txt").Return(nil)
		repo.On("UpdateUsedBytes", ctx, "blog", int64(0)).Return(nil)

		u, err := service.DeleteFile(ctx, "blog", "a.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(0), u.UsedBytes)
	})

	t.Run("missing file", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "nope.txt").Return(sitehost.FileInfo{}, sitehost.ErrNotFound)

		_, err := service.DeleteFile(ctx, "blog", "nope.txt")
		assert.ErrorIs(t, err, sitehost.ErrNotFound)
		storage.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)

		_, err := service.DeleteFile(ctx, "blog", "../../etc/passwd")
		assert.ErrorIs(t, err, sitehost.ErrPathRejected)
		storage.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delete failure keeps usage", func(t *testing.T) {
		service, repo, storage, _ := NewSiteService(t)
		ctx := context.Background()

		repo.On("Get", ctx, "blog").Return(blogSite(), nil)
		storage.On("Stat", ctx, "blog", "a.txt").Return(sitehost.FileInfo{Size: 10}, nil)
		storage.On("Delete", ctx, "blog", "a.txt").Return(errors.New("read-only file system"))

		_, err := service.DeleteFile(ctx, "blog", "a.txt")
		assert.ErrorIs(t, err, sitehost.ErrStorageIO)
		repo.AssertNotCalled(t, "UpdateUsedBytes", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSiteService_ListFiles(t *testing.T) {
	service, repo, storage, _ := NewSiteService(t)
	ctx := context.Background()
	files := []sitehost.FileInfo{{Path: "docs/a.html", Size: 3}}

	repo.On("Get", ctx, "blog").Return(blogSite(), nil)
	storage.On("List", ctx, "blog", "docs/").Return(files, nil)

	got, err := service.ListFiles(ctx, "blog", "docs/")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	_, err = service.ListFiles(ctx, "blog", "../")
	assert.ErrorIs(t, err, sitehost.ErrPathRejected)
}

func TestSiteService_StatsAndRecount(t *testing.T) {
	service, repo, storage, _ := NewSiteService(t)
	ctx := context.Background()

	repo.On("Get", ctx, "blog").Return(blogSite(), nil)
	storage.On("DiskUsage", ctx, "blog").Return(int64(250), 7, nil)
	repo.On("UpdateUsedBytes", ctx, "blog", int64(250)).Return(nil)

	stats, err := service.Stats(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, sitehost.SiteStats{Name: "blog", UsedBytes: 100, QuotaBytes: testQuota, Percentage: 10, FileCount: 7}, stats)

	u, err := service.Recount(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, int64(250), u.UsedBytes)

	stats, err = service.Stats(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.UsedBytes)
	assert.InDelta(t, 25.0, stats.Percentage, 0.001)
}

func TestSiteService_RecountAll(t *testing.T) {
	service, repo, storage, _ := NewSiteService(t)
	ctx := context.Background()

	a := sitehost.Site{Name: "a", QuotaBytes: 10}
	b := sitehost.Site{Name: "b", QuotaBytes: 10}
	repo.On("List", ctx, sitehost.ListQuery{Limit: 500}).Return(sitehost.ListResult{Items: []sitehost.Site{a}, NextCursor: "c1"}, nil)
	repo.On("List", ctx, sitehost.ListQuery{Limit: 500, Cursor: "c1"}).Return(sitehost.ListResult{Items: []sitehost.Site{b}}, nil)
	repo.On("Get", ctx, "a").Return(a, nil)
	repo.On("Get", ctx, "b").Return(b, nil)
	storage.On("DiskUsage", ctx, "a").Return(int64(3), 1, nil)
	storage.On("DiskUsage", ctx, "b").Return(int64(0), 0, errors.New("gone"))
	repo.On("UpdateUsedBytes", ctx, "a", int64(3)).Return(nil)

	n, err := service.RecountAll(ctx)
	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "gone")
}

func TestSiteService_SyncProxy(t *testing.T) {
	service, _, _, syncer := NewSiteService(t)
	ctx := context.Background()

	syncer.On("Sync", ctx).Return(errProxyDown).Once()
	assert.ErrorIs(t, service.SyncProxy(ctx), sitehost.ErrProxySync)

	syncer.On("Sync", ctx).Return(nil).Once()
	assert.NoError(t, service.SyncProxy(ctx))
}

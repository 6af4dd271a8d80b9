// Package repotest is a conformance suite run against every SiteRepo
// backend.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/sagarc03/sitehost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRepoFunc returns an empty, migrated repo private to the calling test.
type NewRepoFunc func(t *testing.T) sitehost.SiteRepo

// Run executes the suite. Each subtest gets its own repo.
func Run(t *testing.T, newRepo NewRepoFunc) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) { testCreateGet(t, newRepo(t)) })
	t.Run("create with auth", func(t *testing.T) { testCreateWithAuth(t, newRepo(t)) })
	t.Run("create conflict", func(t *testing.T) { testCreateConflict(t, newRepo(t)) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, newRepo(t)) })
	t.Run("get not found", func(t *testing.T) { testGetNotFound(t, newRepo(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("update auth", func(t *testing.T) { testUpdateAuth(t, newRepo(t)) })
	t.Run("update used bytes", func(t *testing.T) { testUpdateUsedBytes(t, newRepo(t)) })
	t.Run("list", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("list prefix escapes wildcards", func(t *testing.T) { testListEscapes(t, newRepo(t)) })
	t.Run("list pagination", func(t *testing.T) { testListPagination(t, newRepo(t)) })
	t.Run("list invalid cursor", func(t *testing.T) { testListInvalidCursor(t, newRepo(t)) })
}

func newSite(name string) sitehost.NewSite {
	return sitehost.NewSite{Name: name, Root: "/srv/sites/" + name, QuotaBytes: 1000}
}

func testCreateGet(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	created, err := repo.Create(ctx, newSite("blog"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "blog", created.Name)
	assert.Equal(t, "/srv/sites/blog", created.Root)
	assert.Equal(t, int64(1000), created.QuotaBytes)
	assert.Zero(t, created.UsedBytes)
	assert.Nil(t, created.Auth)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func testCreateWithAuth(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	ns := newSite("private")
	ns.Auth = &sitehost.BasicAuth{Username: "alice", PasswordHash: "$2a$10$hash"}

	_, err := repo.Create(ctx, ns)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "private")
	require.NoError(t, err)
	require.NotNil(t, got.Auth)
	assert.Equal(t, "alice", got.Auth.Username)
	assert.Equal(t, "$2a$10$hash", got.Auth.PasswordHash)
}

func testCreateConflict(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	_, err := repo.Create(ctx, newSite("blog"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newSite("blog"))
	assert.ErrorIs(t, err, sitehost.ErrConflict)
}

func testConcurrentCreate(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	const workers = 8
	var created atomic.Int32
	var conflicts atomic.Int32

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, newSite("race"))
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorIs(t, err, sitehost.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func testGetNotFound(t *testing.T, repo sitehost.SiteRepo) {
	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, sitehost.ErrNotFound)
}

func testDelete(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	_, err := repo.Create(ctx, newSite("blog"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "blog"))

	_, err = repo.Get(ctx, "blog")
	assert.ErrorIs(t, err, sitehost.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "blog"), sitehost.ErrNotFound)

	// the name is free again
	_, err = repo.Create(ctx, newSite("blog"))
	assert.NoError(t, err)
}

func testUpdateAuth(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	_, err := repo.Create(ctx, newSite("blog"))
	require.NoError(t, err)

	s, err := repo.UpdateAuth(ctx, "blog", &sitehost.BasicAuth{Username: "bob", PasswordHash: "h1"})
	require.NoError(t, err)
	require.NotNil(t, s.Auth)
	assert.Equal(t, "bob", s.Auth.Username)

	s, err = repo.UpdateAuth(ctx, "blog", nil)
	require.NoError(t, err)
	assert.Nil(t, s.Auth)

	got, err := repo.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Nil(t, got.Auth)

	_, err = repo.UpdateAuth(ctx, "ghost", nil)
	assert.ErrorIs(t, err, sitehost.ErrNotFound)
}

func testUpdateUsedBytes(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	_, err := repo.Create(ctx, newSite("blog"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUsedBytes(ctx, "blog", 512))

	got, err := repo.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, int64(512), got.UsedBytes)

	assert.ErrorIs(t, repo.UpdateUsedBytes(ctx, "ghost", 1), sitehost.ErrNotFound)
}

func testList(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	for _, name := range []string{"docs", "blog", "docs-v2"} {
		_, err := repo.Create(ctx, newSite(name))
		require.NoError(t, err)
	}

	result, err := repo.List(ctx, sitehost.ListQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "blog", "docs-v2"}, names(result.Items), "ordered by creation")
	assert.Empty(t, result.NextCursor)

	result, err = repo.List(ctx, sitehost.ListQuery{Prefix: "docs", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "docs-v2"}, names(result.Items))

	result, err = repo.List(ctx, sitehost.ListQuery{Prefix: "zzz", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func testListEscapes(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	for _, name := range []string{"a_c", "abc", "a%d"} {
		_, err := repo.Create(ctx, newSite(name))
		require.NoError(t, err)
	}

	result, err := repo.List(ctx, sitehost.ListQuery{Prefix: "a_", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_c"}, names(result.Items))

	result, err = repo.List(ctx, sitehost.ListQuery{Prefix: "a%", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a%d"}, names(result.Items))
}

func testListPagination(t *testing.T, repo sitehost.SiteRepo) {
	ctx := context.Background()

	var want []string
	for i := range 5 {
		name := fmt.Sprintf("site-%d", i)
		want = append(want, name)
		_, err := repo.Create(ctx, newSite(name))
		require.NoError(t, err)
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		result, err := repo.List(ctx, sitehost.ListQuery{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(result.Items), 2)
		got = append(got, names(result.Items)...)
		pages++
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func testListInvalidCursor(t *testing.T, repo sitehost.SiteRepo) {
	_, err := repo.List(context.Background(), sitehost.ListQuery{Limit: 1, Cursor: "!!!"})
	assert.ErrorIs(t, err, sitehost.ErrInvalidInput)
}

func names(sites []sitehost.Site) []string {
	out := make([]string, len(sites))
	for i, s := range sites {
		out[i] = s.Name
	}
	return out
}

package schema

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntrospector struct {
	calls atomic.Int32
	raw   Raw
	err   error
}

func (f *fakeIntrospector) Introspect(ctx context.Context, database, table string) (Raw, error) {
	f.calls.Add(1)
	return f.raw, f.err
}

func strPtr(s string) *string { return &s }

func articleRaw() Raw {
	return Raw{
		Columns: []RawColumn{
			{Name: "id"},
			{Name: "title"},
			{Name: "status", Default: strPtr("draft")},
			{Name: "author_id"},
		},
		Keys: []RawKey{
			{Column: "id", Primary: true},
			{Column: "author_id", ReferencedTable: "users", ReferencedColumn: "id"},
			{Column: "title"}, // unique key
		},
	}
}

func TestFromRaw(t *testing.T) {
	s := FromRaw("articles", articleRaw())

	assert.Equal(t, "articles", s.Table)
	assert.Equal(t, "id", s.PrimaryKey)
	assert.Equal(t, []string{"id", "title", "status", "authorId"}, s.ColumnOrder)
	require.NotNil(t, s.Columns["status"].DefaultValue)
	assert.Equal(t, "draft", *s.Columns["status"].DefaultValue)
	assert.Nil(t, s.Columns["title"].DefaultValue)

	fk, ok := s.ForeignKey("authorId")
	require.True(t, ok)
	assert.Equal(t, "users", fk.ReferencedTable)
	assert.Equal(t, "id", fk.ReferencedColumn)

	_, ok = s.ForeignKey("title")
	assert.False(t, ok, "unique keys are not foreign keys")
}

func TestProviderCachesPerTable(t *testing.T) {
	src := &fakeIntrospector{raw: articleRaw()}
	p := NewProvider(src, nil)
	ctx := context.Background()

	s1, err := p.Get(ctx, "blog", "articles")
	require.NoError(t, err)
	s2, err := p.Get(ctx, "blog", "articles")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = p.Get(ctx, "archive", "articles")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "fully qualified names are cached separately")
	assert.Equal(t, 2, p.Len())
}

func TestProviderConcurrentLoad(t *testing.T) {
	src := &fakeIntrospector{raw: articleRaw()}
	p := NewProvider(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Get(context.Background(), "blog", "articles")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestProviderErrors(t *testing.T) {
	ctx := context.Background()

	failing := NewProvider(&fakeIntrospector{err: errors.New("access denied")}, nil)
	_, err := failing.Get(ctx, "blog", "articles")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "blog.articles", le.Table)

	missing := NewProvider(&fakeIntrospector{}, nil)
	_, err = missing.Get(ctx, "blog", "nope")
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestProviderPutAndClear(t *testing.T) {
	src := &fakeIntrospector{raw: articleRaw()}
	p := NewProvider(src, nil)
	seeded := &Schema{Table: "articles", PrimaryKey: "id", Columns: map[string]Column{"id": {}}}
	p.Put("blog", "articles", seeded)

	s, err := p.Get(context.Background(), "blog", "articles")
	require.NoError(t, err)
	assert.Same(t, seeded, s)
	assert.Equal(t, int32(0), src.calls.Load())

	require.NoError(t, p.ClearAll())
	assert.Equal(t, 0, p.Len())
	_, err = p.Get(context.Background(), "blog", "articles")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.msgpack")
	ctx := context.Background()

	src := &fakeIntrospector{raw: articleRaw()}
	first := NewProvider(src, NewFileStore(path))
	want, err := first.Get(ctx, "blog", "articles")
	require.NoError(t, err)

	restarted := &fakeIntrospector{raw: articleRaw()}
	second := NewProvider(restarted, NewFileStore(path))
	got, err := second.Get(ctx, "blog", "articles")
	require.NoError(t, err)

	assert.Equal(t, int32(0), restarted.calls.Load())
	assert.Equal(t, want.PrimaryKey, got.PrimaryKey)
	assert.Equal(t, want.ColumnOrder, got.ColumnOrder)
	assert.Equal(t, want.Constraints, got.Constraints)
	require.NotNil(t, got.Columns["status"].DefaultValue)
	assert.Equal(t, "draft", *got.Columns["status"].DefaultValue)

	require.NoError(t, second.ClearAll())
	third := NewProvider(restarted, NewFileStore(path))
	_, err = third.Get(ctx, "blog", "articles")
	require.NoError(t, err)
	assert.Equal(t, int32(1), restarted.calls.Load(), "ClearAll removes the persisted copy")
}

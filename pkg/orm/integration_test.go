package orm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkit/internal/db"
)

// newSQLiteEnv returns an Env on a private in-memory SQLite database with the
// users and articles tables.
func newSQLiteEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()
	conn, err := db.Open("sqlite", ":memory:", 5)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE articles (
			id INTEGER PRIMARY KEY,
			name TEXT,
			value INTEGER,
			status TEXT DEFAULT 'draft',
			version INTEGER DEFAULT 1,
			author_id INTEGER REFERENCES users(id)
		)`,
	} {
		_, err := conn.Exec(context.Background(), stmt)
		require.NoError(t, err)
	}
	return NewEnv(conn, opts...)
}

func insertArticle(t *testing.T, c *Container, props map[string]interface{}) *Record {
	t.Helper()
	r := c.New()
	r.SetAll(props)
	require.NoError(t, r.Save(context.Background()))
	require.NotNil(t, r.PrimaryKey())
	return r
}

func TestIntrospectedSchema(t *testing.T) {
	env := newSQLiteEnv(t)
	s, err := env.Container("articles").Schema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "id", s.PrimaryKey)
	assert.Equal(t, []string{"id", "name", "value", "status", "version", "authorId"}, s.ColumnOrder)
	require.NotNil(t, s.Columns["status"].DefaultValue)
	assert.Equal(t, "draft", *s.Columns["status"].DefaultValue)

	fk, ok := s.ForeignKey("authorId")
	require.True(t, ok)
	assert.Equal(t, "users", fk.ReferencedTable)
	assert.Equal(t, "id", fk.ReferencedColumn)
}

func TestRoundTrip(t *testing.T) {
	env := newSQLiteEnv(t)
	c := env.Container("articles")
	ctx := context.Background()

	r := insertArticle(t, c, map[string]interface{}{"name": "a", "value": 1})
	assert.Equal(t, "draft", r.Get("status"), "defaults are filled in after insert")

	got, err := c.SelectByPK(ctx, r.PrimaryKey())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Get("name"))
	assert.Equal(t, int64(1), got.Get("value"))
	assert.Equal(t, "draft", got.Get("status"))
	assert.Equal(t, r.PrimaryKey(), got.PrimaryKey())
}

func TestCacheIsStaleUntilWrite(t *testing.T) {
	env := newSQLiteEnv(t)
	c := env.Container("articles")
	ctx := context.Background()

	insertArticle(t, c, map[string]interface{}{"name": "five", "value": 5})
	opts := Options{}.Where(`"value" = ?`, 5)

	first, err := c.Select(ctx, opts)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a change that bypasses the container is not seen
	_, err = env.Conn().Exec(ctx, `UPDATE articles SET name = 'changed'`)
	require.NoError(t, err)
	second, err := c.Select(ctx, opts)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "five", second[0].Get("name"))

	// a write through any container of the table invalidates
	insertArticle(t, env.Container("articles"), map[string]interface{}{"name": "also five", "value": 5})
	third, err := c.Select(ctx, opts)
	require.NoError(t, err)
	require.Len(t, third, 2)
	assert.Equal(t, "changed", third[0].Get("name"))

	require.NoError(t, c.Delete(ctx, third[1]))
	fourth, err := c.Select(ctx, opts)
	require.NoError(t, err)
	assert.Len(t, fourth, 1)
}

func TestOptimisticLockConflict(t *testing.T) {
	env := newSQLiteEnv(t, WithOptimisticLocking())
	c := env.Container("articles")
	ctx := context.Background()

	id := insertArticle(t, c, map[string]interface{}{"name": "a", "version": 1}).PrimaryKey()

	r, err := c.SelectByPK(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), r.Get("version"))

	_, err = env.Conn().Exec(ctx, `UPDATE articles SET version = 2`)
	require.NoError(t, err)

	r.Set("version", 2)
	err = r.Save(ctx)
	var cme *ConcurrentModificationError
	require.True(t, errors.As(err, &cme), "got %v", err)
	assert.Contains(t, cme.Conflicts, PropertyConflict{Property: "version", OldValue: int64(1), NewValue: int64(2)})
}

func TestOptimisticLockNoConflict(t *testing.T) {
	env := newSQLiteEnv(t, WithOptimisticLocking())
	c := env.Container("articles")
	ctx := context.Background()

	id := insertArticle(t, c, map[string]interface{}{"name": "a", "version": 1}).PrimaryKey()
	r, err := c.SelectByPK(ctx, id)
	require.NoError(t, err)

	r.Set("version", 2)
	r.Set("name", nil)
	require.NoError(t, r.Save(ctx))
	assert.Empty(t, r.Modified())

	// NULL old values still match
	r.Set("name", "b")
	require.NoError(t, r.Save(ctx))

	n, err := c.Count(ctx, Options{}.Where(`"version" = ? AND "name" = ?`, 2, "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountByStatus(t *testing.T) {
	env := newSQLiteEnv(t)
	c := env.Container("articles")
	ctx := context.Background()

	for _, status := range []string{"active", "active", "draft"} {
		insertArticle(t, c, map[string]interface{}{"status": status})
	}

	byStatus, err := c.Call(ctx, "countByStatus", "active")
	require.NoError(t, err)
	count, err := c.Count(ctx, Options{Conditions: []Condition{Cond("status = ?", "active")}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, count, byStatus.Count)

	first, err := c.Call(ctx, "selectByStatusFirst", "draft")
	require.NoError(t, err)
	require.NotNil(t, first.Record)
	assert.Equal(t, "draft", first.Record.Get("status"))

	deleted, err := c.DeleteBy(ctx, "status", "active")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	total, err := c.Count(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestFilteredContainer(t *testing.T) {
	env := newSQLiteEnv(t)
	all := env.Container("articles")
	ctx := context.Background()

	insertArticle(t, all, map[string]interface{}{"name": "x", "status": "active"})
	insertArticle(t, all, map[string]interface{}{"name": "y", "status": "draft"})

	active := all.Filtered(Options{}.Where("status = ?", "active"))
	records, err := active.Select(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x", records[0].Get("name"))

	records, err = all.Select(ctx, Options{Order: "id"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	named, err := active.SelectBy(ctx, "name", "y")
	require.NoError(t, err)
	assert.Empty(t, named)
}

func TestRelatedRecord(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	user := env.Container("users").New()
	user.Set("name", "Ada")
	require.NoError(t, user.Save(ctx))

	articles := env.Container("articles")
	id := insertArticle(t, articles, map[string]interface{}{"name": "a", "authorId": user}).PrimaryKey()

	r, err := articles.SelectByPK(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Reference, r.Value("authorId").Kind())
	assert.Equal(t, user.PrimaryKey(), r.Get("authorId"))

	author, err := r.Related(ctx, "authorId")
	require.NoError(t, err)
	require.NotNil(t, author)
	assert.Equal(t, "Ada", author.Get("name"))
	assert.Equal(t, Resolved, r.Value("authorId").Kind())
	assert.Empty(t, r.Modified())

	// the resolved record is written back as its key
	r.Set("name", "b")
	require.NoError(t, r.Save(ctx))
	n, err := articles.Count(ctx, Options{}.Where("author_id = ?", user))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVirtualProperties(t *testing.T) {
	env := newSQLiteEnv(t)
	c := env.Container("articles", WithRecordType("Article", func(r *Record) {
		require.NoError(t, r.SetVirtualExpr("label", `name + " (" + status + ")"`))
		r.SetVirtual("double", func(r *Record) interface{} {
			v, _ := r.Get("value").(int64)
			return v * 2
		})
	}))
	ctx := context.Background()

	r := insertArticle(t, c, map[string]interface{}{"name": "a", "value": 21})
	assert.Equal(t, "a (draft)", r.Get("label"))
	assert.Equal(t, int64(42), r.Get("double"))
	assert.False(t, r.Has("label"))

	loaded, err := c.SelectByPK(ctx, r.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, "a (draft)", loaded.Get("label"))

	assert.Error(t, loaded.SetVirtualExpr("broken", "name +"))
}

func TestCallbacksAndTableExists(t *testing.T) {
	env := newSQLiteEnv(t)
	c := env.Container("articles")
	ctx := context.Background()

	var events []string
	c.OnInsert(func(ctx context.Context, r *Record) { events = append(events, "insert") })
	c.OnUpdate(func(ctx context.Context, r *Record) { events = append(events, "update") })
	c.OnDelete(func(ctx context.Context, r *Record, opts Options) { events = append(events, "delete") })

	// filtered containers share the callbacks
	r := insertArticle(t, c.Filtered(Options{Limit: 5}), map[string]interface{}{"name": "a"})
	r.Set("name", "b")
	require.NoError(t, r.Save(ctx))
	require.NoError(t, c.Delete(ctx, r))
	assert.Equal(t, []string{"insert", "update", "delete"}, events)

	exists, err := c.TableExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = env.Container("nope").TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = env.Container("nope").Select(ctx, Options{})
	assert.True(t, IsSchemaLoad(err))
}

package dialects

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/test_driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkit/internal/db"
)

func TestEscapeString(t *testing.T) {
	var tests = []struct {
		in  string
		out string
	}{
		{"plain", "plain"},
		{"it's", `it\'s`},
		{`back\slash`, `back\\slash`},
		{"line\nbreak", `line\nbreak`},
		{"carriage\rreturn", `carriage\rreturn`},
		{`say "hi"`, `say \"hi\"`},
		{"nul\x00byte", `nul\0byte`},
		{"ctrl\x1az", `ctrl\Zz`},
		{`\'`, `\\\'`},
	}

	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			assert.Equal(t, tt.out, EscapeString(tt.in))
		})
	}
}

// The escaped literal must be read back by a MySQL compatible parser as one
// string literal equal to the input.
func TestQuoteStringParsesAsSingleLiteral(t *testing.T) {
	inputs := []string{
		"O'Brien",
		`C:\temp\`,
		`\' OR 1=1 -- `,
		"'; DROP TABLE users; --",
		"multi\nline\r\n\"quoted\"",
		"nul\x00 and ctrl-z\x1a",
		`trailing backslash \`,
	}

	p := parser.New()
	d := myDialect{}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			sql := "SELECT * FROM `users` WHERE `name` = " + d.QuoteString(in)
			stmts, _, err := p.Parse(sql, "", "")
			require.NoError(t, err)
			require.Len(t, stmts, 1)

			sel, ok := stmts[0].(*ast.SelectStmt)
			require.True(t, ok)
			cmp, ok := sel.Where.(*ast.BinaryOperationExpr)
			require.True(t, ok, "where clause must be a single comparison")
			val, ok := cmp.R.(*test_driver.ValueExpr)
			require.True(t, ok)
			assert.Equal(t, in, val.GetString())
		})
	}
}

func TestMySQLClauses(t *testing.T) {
	d := myDialect{}
	assert.Equal(t, "`order`", d.QuoteIdent("order"))
	assert.Equal(t, "`we``ird`", d.QuoteIdent("we`ird"))
	assert.Equal(t, " LOCK IN SHARE MODE", d.LockClause(db.LockShareMode))
	assert.Equal(t, " FOR UPDATE", d.LockClause(db.LockForUpdate))
	assert.Equal(t, "", d.LockClause(db.LockNone))
	assert.Equal(t, "<=>", d.NullSafeEqual())
	assert.Equal(t, "", d.Returning("id"))
}

func TestMySQLIntrospect(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	q := sqlx.NewDb(sqlDB, "mysql")

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("blog", "articles").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "COLUMN_DEFAULT"}).
			AddRow("id", nil).
			AddRow("status", "'draft'").
			AddRow("author_id", nil))
	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WithArgs("blog", "articles").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "CONSTRAINT_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("id", "PRIMARY", nil, nil).
			AddRow("author_id", "fk_author", "users", "id"))

	raw, err := myDialect{}.Introspect(context.Background(), q, "blog", "articles")
	require.NoError(t, err)
	require.Len(t, raw.Columns, 3)
	require.NotNil(t, raw.Columns[1].Default)
	assert.Equal(t, "draft", *raw.Columns[1].Default)
	assert.Nil(t, raw.Columns[0].Default)
	require.Len(t, raw.Keys, 2)
	assert.True(t, raw.Keys[0].Primary)
	assert.Equal(t, "users", raw.Keys[1].ReferencedTable)
	require.NoError(t, mock.ExpectationsWereMet())
}

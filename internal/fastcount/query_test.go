package fastcount

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableQuerySQLCompilesWithoutExecuting(t *testing.T) {
	db := openTestDB(t)

	q := NewTableQuery(db, "users", "active = ?", 1)
	sqlText, args, err := q.SQL(context.Background())
	require.NoError(t, err)

	require.Contains(t, strings.ToLower(sqlText), "count")
	require.Contains(t, sqlText, "users")
	require.Equal(t, []interface{}{1}, args)
}

func TestTableQueryExecute(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 3, 2)

	all, err := NewTableQuery(db, "users", "").Execute(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, all)

	active, err := NewTableQuery(db, "users", "active = ?", 1).Execute(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, active)
}

func TestTableQueryWithoutDatabase(t *testing.T) {
	q := NewTableQuery(nil, "users", "")

	_, _, err := q.SQL(context.Background())
	require.Error(t, err)

	_, err = q.Execute(context.Background())
	require.Error(t, err)
}

func TestTableSourcePrecacheQueries(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, 2, 1)

	source := NewTableSource(db, "users", []QuerySpec{
		{Name: "active", Where: "active = ?", Args: []interface{}{1}},
		{Name: "inactive", Where: "active = ?", Args: []interface{}{0}},
	})

	queries, err := source.PrecacheQueries()
	require.NoError(t, err)
	require.Len(t, queries, 2)

	count, err := queries[0].Execute(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestTableSourceRejectsMalformedSpecs(t *testing.T) {
	db := openTestDB(t)

	for name, specs := range map[string][]QuerySpec{
		"missing name":  {{Name: "", Where: "active = 1"}},
		"missing where": {{Name: "active", Where: "  "}},
		"one bad among good": {
			{Name: "active", Where: "active = 1"},
			{Name: "broken", Where: ""},
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTableSource(db, "users", specs).PrecacheQueries()
			require.Error(t, err)
		})
	}
}

func TestTableSourceNamed(t *testing.T) {
	db := openTestDB(t)
	source := NewTableSource(db, "users", []QuerySpec{
		{Name: "active", Where: "active = ?", Args: []interface{}{1}},
	})

	q, ok := source.Named("active")
	require.True(t, ok)
	require.NotNil(t, q)

	for _, alias := range []string{"", "all", "ALL"} {
		q, ok := source.Named(alias)
		require.True(t, ok)
		require.Equal(t, "table=users all", q.Debug())
	}

	_, ok = source.Named("missing")
	require.False(t, ok)

	require.Equal(t, []string{"all", "active"}, source.QueryNames())
}

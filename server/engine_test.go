package server

import (
	"context"
	"database/sql"
	"flag"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMQS/fulltext/fulltext"
)

// Run these tests with
//  go test github.com/IMQS/fulltext/server -db_postgres

var db_postgres = flag.Bool("db_postgres", false, "Run tests against a Postgres index")

func conx_index_postgres() ConfigDatabase {
	return ConfigDatabase{
		Driver:   "postgres",
		Host:     "localhost",
		Database: "unit_test_fulltext_index",
		User:     "unit_test_user",
		Password: "unit_test_password",
	}
}

func ensureExec(t testing.TB, db *sql.DB, query string) {
	_, err := db.Exec(query)
	if err != nil {
		t.Fatalf("Error executing query %.40v: %v", query, err)
	}
}

func TestPostgresEngine(t *testing.T) {
	if !*db_postgres {
		t.Skip("Use -db_postgres to run against Postgres")
	}
	e := &Engine{
		Config: &Config{
			Index: conx_index_postgres(),
			Types: map[string]*ConfigType{
				"Meter": {Table: "meters", Fields: []interface{}{"meterid"}},
			},
		},
	}
	require.NoError(t, e.Initialize())
	defer e.Close()

	ensureExec(t, e.IndexDB, `DROP TABLE IF EXISTS meters`)
	ensureExec(t, e.IndexDB, `CREATE TABLE meters (id BIGSERIAL PRIMARY KEY, meterid VARCHAR)`)
	ensureExec(t, e.IndexDB, `INSERT INTO meters (meterid) VALUES ('abc 123'), ('abc 456'), ('xyz 123')`)
	ensureExec(t, e.IndexDB, `DELETE FROM fulltext_indices`)
	ensureExec(t, e.IndexDB, `DELETE FROM fulltext_index_types`)

	ctx := context.Background()
	require.NoError(t, e.AutoRebuild(ctx))

	res, err := e.Search(ctx, "Meter", "123", fulltext.Options{Order: "meters.id"}, true)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "abc 123", res.Records[0].Attrs["meterid"])
	assert.Equal(t, "xyz 123", res.Records[1].Attrs["meterid"])

	res, err = e.Search(ctx, "Meter", "ab 12", fulltext.Options{}, true)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	assert.NoError(t, e.Vacuum())
}

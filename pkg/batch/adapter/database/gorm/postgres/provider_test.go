package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	dsn := ConnectionString(dbconfig.DatabaseConfig{
		Host: "db", Port: 5432, User: "batch", Password: "secret", Database: "people", Schema: "etl",
	})
	assert.Equal(t, "host=db port=5432 user=batch password=secret dbname=people sslmode=disable search_path=etl", dsn)
}

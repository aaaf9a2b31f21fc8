package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	dsn := ConnectionString(dbconfig.DatabaseConfig{
		Host: "db", Port: 3306, User: "batch", Password: "p@ss", Database: "people",
	})
	assert.Contains(t, dsn, "batch:p@ss@tcp(db:3306)/people")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "multiStatements=true")
}

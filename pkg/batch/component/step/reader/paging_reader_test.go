package reader_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

type person struct {
	ID        uint `gorm:"primaryKey"`
	FirstName string
	LastName  string
	Active    bool
}

func (person) TableName() string { return "people" }

func seedPeople(t *testing.T, n int) *gormadapter.GormDBConnectionResolver {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Chunkflow.Databases["main"] = dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "people.db"),
	}
	r := gormadapter.NewResolver(cfg, sqlite.NewProvider(cfg))
	t.Cleanup(func() { _ = r.CloseAll() })

	conn, err := r.ResolveDBConnection(context.Background(), "main")
	require.NoError(t, err)
	db := conn.(*gormadapter.GormDBAdapter).GormDB()
	require.NoError(t, db.AutoMigrate(&person{}))
	for i := 1; i <= n; i++ {
		require.NoError(t, db.Create(&person{FirstName: fmt.Sprintf("p%02d", i), Active: i%3 != 0}).Error)
	}
	return r
}

func TestPagingItemReader_ReadsAcrossPages(t *testing.T) {
	ctx := context.Background()
	resolver := seedPeople(t, 7)
	r := reader.NewPagingItemReader[person](resolver, "main", "people", nil, "id", 3)

	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	items, errs := readAll[person](t, r)
	require.NoError(t, r.Close(ctx))

	assert.Empty(t, errs)
	require.Len(t, items, 7)
	assert.Equal(t, "p01", items[0].FirstName)
	assert.Equal(t, "p07", items[6].FirstName)
}

func TestPagingItemReader_FilterAndResume(t *testing.T) {
	ctx := context.Background()
	resolver := seedPeople(t, 9)
	filter := map[string]interface{}{"active": true}

	r := reader.NewPagingItemReader[person](resolver, "main", "active", filter, "id", 2)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	for i := 0; i < 3; i++ {
		_, err := r.Read(ctx)
		require.NoError(t, err)
	}
	ec, err := r.GetExecutionContext(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))
	pos, _ := ec.GetInt("active.readCount")
	assert.Equal(t, 3, pos)

	restarted := reader.NewPagingItemReader[person](resolver, "main", "active", filter, "id", 2)
	require.NoError(t, restarted.Open(ctx, ec))
	items, errs := readAll[person](t, restarted)
	assert.Empty(t, errs)

	var names []string
	for _, p := range items {
		names = append(names, p.FirstName)
	}
	// p03, p06 and p09 are inactive; p01, p02 and p04 were read before the restart.
	assert.Equal(t, []string{"p05", "p07", "p08"}, names)
}

func TestPagingItemReader_UnknownDatabase(t *testing.T) {
	resolver := seedPeople(t, 0)
	r := reader.NewPagingItemReader[person](resolver, "missing", "people", nil, "id", 0)
	assert.Error(t, r.Open(context.Background(), model.NewExecutionContext()))
}

package source_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbconduit/internal/domain"
	"dbconduit/internal/source"
)

var (
	db1 = domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: "/tmp/a.db"}
	db2 = domain.ConnectionSpec{ID: "pg", Name: "warehouse", Type: "postgres", URL: "postgres://localhost/wh"}
)

func TestMemorySource_SaveAddAndDelete(t *testing.T) {
	src := source.NewMemorySource("memory", db1)
	var _ source.Saver = src

	require.NoError(t, src.Save([]domain.ConnectionSpec{db2}, source.SaveAdd))
	specs, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionSpec{db1, db2}, specs)

	moved := db1
	moved.URL = "/tmp/b.db"
	require.NoError(t, src.Save([]domain.ConnectionSpec{moved}, source.SaveAdd))
	specs, _ = src.Load()
	assert.Equal(t, "/tmp/b.db", specs[0].URL)
	assert.Len(t, specs, 2)

	require.NoError(t, src.Save(specs, source.SaveDelete))
	specs, _ = src.Load()
	assert.Empty(t, specs)

	assert.Error(t, src.Save(nil, "upsert"))
}

func TestEnvSource_Load(t *testing.T) {
	t.Setenv("DBC_TEST_CONNECTIONS", `[{"name":"db1","type":"sqlite","url":"/tmp/a.db"}]`)
	src := source.NewEnvSource("DBC_TEST_CONNECTIONS")

	specs, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionSpec{db1}, specs)
	assert.Equal(t, "DBC_TEST_CONNECTIONS", src.Name())


	require.NoError(t, src.Save([]domain.ConnectionSpec{db2}, source.SaveAdd))
	specs, err = src.Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionSpec{db1, db2}, specs)
	assert.Contains(t, os.Getenv("DBC_TEST_CONNECTIONS"), `"warehouse"`)
}

func TestEnvSource_EmptyAndInvalid(t *testing.T) {
	t.Setenv("DBC_TEST_EMPTY", "")
	specs, err := source.NewEnvSource("DBC_TEST_EMPTY").Load()
	require.NoError(t, err)
	assert.Empty(t, specs)

	t.Setenv("DBC_TEST_BAD", "{not json")
	_, err = source.NewEnvSource("DBC_TEST_BAD").Load()
	assert.Error(t, err)
}

func TestFileSource_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "connections.json")
	src := source.NewFileSource(path)

	specs, err := src.Load()
	require.NoError(t, err)
	assert.Empty(t, specs)

	require.NoError(t, src.Save([]domain.ConnectionSpec{db1, db2}, source.SaveAdd))
	specs, err = source.NewFileSource(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionSpec{db1, db2}, specs)

	require.NoError(t, src.Save([]domain.ConnectionSpec{{ID: "pg"}}, source.SaveDelete))
	specs, err = src.Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionSpec{db1}, specs)
}

func TestFileSource_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o600))
	_, err := source.NewFileSource(path).Load()
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	src := source.NewFileSource(path)

	var calls atomic.Int32
	var got atomic.Value
	w, err := source.Watch([]source.Watchable{src}, func(name string) {
		got.Store(name)
		calls.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, src.Save([]domain.ConnectionSpec{db1}, source.SaveAdd))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, path, got.Load())
}

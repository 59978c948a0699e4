package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"dbconduit/internal/core"
	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/event"
	"dbconduit/internal/export"
	"dbconduit/internal/secret"
	"dbconduit/internal/service"
	"dbconduit/internal/source"
	"dbconduit/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Handler tests against real sqlite files
// ─────────────────────────────────────────────────────────────

// seedDB creates a sqlite file with a numbers table of n rows.
func seedDB(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE numbers (n INTEGER PRIMARY KEY, label TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE VIEW evens AS SELECT * FROM numbers WHERE n % 2 = 0`)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := tx.Exec(`INSERT INTO numbers (n, label) VALUES (?, ?)`, i, fmt.Sprintf("n%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	return path
}

func newHandler(t *testing.T, opts service.Options) *service.Handler {
	t.Helper()
	h := service.NewHandler(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close(ctx)
	})
	return h
}

func waitCall(t *testing.T, h *service.Handler, callID string) domain.CallDetails {
	t.Helper()
	var det domain.CallDetails
	require.Eventually(t, func() bool {
		var err error
		det, err = h.GetCall(callID)
		require.NoError(t, err)
		return det.State.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return det
}

type pageSink struct {
	mu     sync.Mutex
	header domain.Header
	rows   []domain.Row
	from   int
	total  int
}

func (p *pageSink) Display(header domain.Header, rows []domain.Row, from, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header, p.rows, p.from, p.total = header, rows, from, total
	return nil
}

func TestHandler_DefaultIDAndIdempotentReload(t *testing.T) {
	h := newHandler(t, service.Options{})
	src := source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)})

	st := h.AddSource(src)
	require.NoError(t, st.Err)
	assert.Equal(t, 1, st.Connections)

	conns := h.SourceGetConnections("memory")
	require.Len(t, conns, 1)
	assert.Equal(t, "sqlitedb1", conns[0].ID)

	require.NoError(t, h.SourceReload("memory"))
	require.NoError(t, h.SourceReload("memory"))
	assert.Len(t, h.SourceGetConnections("memory"), 1)
}

func TestHandler_FirstRegistrationWins(t *testing.T) {
	h := newHandler(t, service.Options{})
	first := source.NewMemorySource("memory", domain.ConnectionSpec{Name: "a", Type: "sqlite", URL: seedDB(t, 1)})
	second := source.NewMemorySource("memory")

	h.AddSource(first)
	h.AddSource(second)

	srcs := h.GetSources()
	require.Len(t, srcs, 1)
	assert.Same(t, first, srcs[0])
	assert.Len(t, h.SourceGetConnections("memory"), 1)
}

func TestHandler_GetSourcesSorted(t *testing.T) {
	h := newHandler(t, service.Options{})
	for _, name := range []string{"zz", "aa", "mm"} {
		h.AddSource(source.NewMemorySource(name))
	}
	var names []string
	for _, s := range h.GetSources() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"aa", "mm", "zz"}, names)
}

func TestHandler_FailingSourceDoesNotBlockOthers(t *testing.T) {
	t.Setenv("DBC_TEST_BROKEN", "{oops")
	h := newHandler(t, service.Options{})

	st := h.AddSource(source.NewEnvSource("DBC_TEST_BROKEN"))
	assert.Error(t, st.Err)
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)}))

	statuses := h.ReloadAll()
	require.Len(t, statuses, 2)
	assert.Error(t, statuses[0].Err)
	assert.Equal(t, "DBC_TEST_BROKEN", statuses[0].Name)
	assert.NoError(t, statuses[1].Err)
	assert.Equal(t, 1, statuses[1].Connections)
}

func TestHandler_RemoveAllFromEnvSource(t *testing.T) {
	t.Setenv("DBC_TEST_ENV", fmt.Sprintf(`[{"name":"db1","type":"sqlite","url":%q}]`, seedDB(t, 1)))
	h := newHandler(t, service.Options{})
	env := source.NewEnvSource("DBC_TEST_ENV")
	h.AddSource(env)
	require.Len(t, h.SourceGetConnections("DBC_TEST_ENV"), 1)

	specs := []domain.ConnectionSpec{{Name: "db1", Type: "sqlite"}}
	require.NoError(t, h.SourceRemoveConnections("DBC_TEST_ENV", specs))
	assert.Empty(t, h.SourceGetConnections("DBC_TEST_ENV"))
}

func TestHandler_AddAndRemoveConnections(t *testing.T) {
	h := newHandler(t, service.Options{})
	src := source.NewMemorySource("memory")
	h.AddSource(src)

	var changes []service.ConnectionsChange
	var mu sync.Mutex
	h.RegisterEventListener(event.ConnectionsChanged, func(_ context.Context, data any) {
		mu.Lock()
		changes = append(changes, data.(service.ConnectionsChange))
		mu.Unlock()
	})

	spec := domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)}
	require.NoError(t, h.SourceAddConnections("memory", []domain.ConnectionSpec{spec}))
	assert.Len(t, h.SourceGetConnections("memory"), 1)

	require.NoError(t, h.SourceRemoveConnections("memory", []domain.ConnectionSpec{{Name: "db1", Type: "sqlite"}}))
	assert.Empty(t, h.SourceGetConnections("memory"))

	// no-ops
	require.NoError(t, h.SourceAddConnections("memory", nil))
	require.NoError(t, h.SourceAddConnections("missing", []domain.ConnectionSpec{spec}))
	assert.Nil(t, h.SourceGetConnections("missing"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.Equal(t, []string{"sqlitedb1"}, changes[0].Added)
	assert.Equal(t, []string{"sqlitedb1"}, changes[1].Removed)
}

func TestHandler_ExecuteAndPage(t *testing.T) {
	h := newHandler(t, service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1000)}))

	det, err := h.ConnectionExecute("sqlitedb1", "SELECT n, label FROM numbers ORDER BY n")
	require.NoError(t, err)
	assert.NotEqual(t, domain.CallStateUnknown, det.State)

	final := waitCall(t, h, det.ID)
	assert.Equal(t, domain.CallStateArchived, final.State)

	sink := &pageSink{}
	total := h.CallDisplayResult(det.ID, sink, 0, 50)
	assert.Equal(t, 1000, total)
	require.Len(t, sink.rows, 50)
	first := sink.rows

	total = h.CallDisplayResult(det.ID, sink, 0, 50)
	assert.Equal(t, 1000, total)
	assert.Equal(t, first, sink.rows)
	assert.Equal(t, domain.Header{"n", "label"}, sink.header)

	total = h.CallDisplayResult(det.ID, sink, 990, 2000)
	assert.Equal(t, 1000, total)
	assert.Len(t, sink.rows, 10)

	calls := h.ConnectionGetCalls("sqlitedb1")
	require.Len(t, calls, 1)
	assert.Equal(t, det.ID, calls[0].ID)
}

func TestHandler_ExecuteFailureIsACallState(t *testing.T) {
	h := newHandler(t, service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)}))

	det, err := h.ConnectionExecute("sqlitedb1", "SELECT * FROM no_such_table")
	require.NoError(t, err)
	final := waitCall(t, h, det.ID)
	assert.Equal(t, domain.CallStateExecutingFailed, final.State)
	assert.NotEmpty(t, final.Error)
}

func TestHandler_UnknownIDsDegrade(t *testing.T) {
	h := newHandler(t, service.Options{})

	_, err := h.ConnectionExecute("nope", "SELECT 1")
	assert.ErrorIs(t, err, core.ErrConnectionUnknown)
	assert.Nil(t, h.ConnectionGetCalls("nope"))
	assert.Nil(t, h.ConnectionGetHelpers("nope", domain.HelperOptions{}))
	assert.Zero(t, h.CallDisplayResult("nope", &pageSink{}, 0, 10))
	assert.ErrorIs(t, h.CallCancel("nope"), core.ErrCallUnknown)
	assert.ErrorIs(t, h.SourceReload("nope"), source.ErrSourceUnknown)
	assert.ErrorIs(t, h.SetCurrentConnection("nope"), core.ErrConnectionUnknown)
}

func TestHandler_CancelArchivedIsNoop(t *testing.T) {
	h := newHandler(t, service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 3)}))

	det, _ := h.ConnectionExecute("sqlitedb1", "SELECT 1")
	waitCall(t, h, det.ID)
	require.NoError(t, h.CallCancel(det.ID))
	got, _ := h.GetCall(det.ID)
	assert.Equal(t, domain.CallStateArchived, got.State)
}

func TestHandler_CallStateEvents(t *testing.T) {
	h := newHandler(t, service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 3)}))

	states := make(chan domain.CallState, 8)
	unregister := h.RegisterEventListener(event.CallStateChanged, func(_ context.Context, data any) {
		states <- data.(domain.CallStateChange).NewState
	})
	defer unregister()

	det, _ := h.ConnectionExecute("sqlitedb1", "SELECT * FROM numbers")
	waitCall(t, h, det.ID)

	var got []domain.CallState
	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-states:
				got = append(got, s)
			default:
				return len(got) == 3
			}
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.CallState{
		domain.CallStateExecuting, domain.CallStateRetrieving, domain.CallStateArchived,
	}, got)
}

func TestHandler_StructureAndHelpers(t *testing.T) {
	h := newHandler(t, service.Options{Helpers: map[string]map[string]string{
		"sqlite": {"Sample": "SELECT * FROM {{table}} LIMIT 5"},
	}})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)}))

	nodes, err := h.ConnectionGetStructure("sqlitedb1")
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	var names []string
	for _, n := range nodes[0].Children {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"evens", "numbers"}, names)

	h.AddHelpers("", map[string]string{"Peek": "SELECT * FROM {{table}} LIMIT 1"})
	helpers := h.ConnectionGetHelpers("sqlitedb1", domain.HelperOptions{Table: "numbers", Materialization: "table"})
	assert.Equal(t, "SELECT * FROM numbers LIMIT 5", helpers["Sample"])
	assert.Equal(t, "SELECT * FROM numbers LIMIT 1", helpers["Peek"])
	assert.Contains(t, helpers, "List")

	_, _, err = h.ConnectionListDatabases("sqlitedb1")
	assert.Error(t, err)
}

func TestHandler_CurrentConnection(t *testing.T) {
	h := newHandler(t, service.Options{})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 1)}))

	_, ok := h.GetCurrentConnection()
	assert.False(t, ok)

	var got domain.ConnectionParams
	h.RegisterEventListener(event.CurrentConnectionChanged, func(_ context.Context, data any) {
		got = data.(domain.ConnectionParams)
	})
	require.NoError(t, h.SetCurrentConnection("sqlitedb1"))
	cur, ok := h.GetCurrentConnection()
	require.True(t, ok)
	assert.Equal(t, "sqlitedb1", cur.ID)
	assert.Equal(t, "sqlitedb1", got.ID)
}

type clipboard struct{ text string }

func (c *clipboard) SetRegister(_, text string) error {
	c.text = text
	return nil
}

func TestHandler_StoreResult(t *testing.T) {
	clip := &clipboard{}
	h := newHandler(t, service.Options{Sinks: export.Sinks{Clipboard: clip}})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 5)}))

	det, _ := h.ConnectionExecute("sqlitedb1", "SELECT n, label FROM numbers ORDER BY n")
	waitCall(t, h, det.ID)

	require.NoError(t, h.CallStoreResult(det.ID, export.FormatCSV, domain.ClipboardTarget{Register: "+"}, 0, 2))
	assert.Equal(t, "n,label\n0,n0\n1,n1\n", clip.text)

	path := filepath.Join(t.TempDir(), "all.json")
	require.NoError(t, h.CallStoreResult(det.ID, export.FormatJSON, domain.FileTarget{Path: path}, 0, -1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"n": 4, "label": "n4"}`)

	err = h.CallStoreResult(det.ID, export.FormatCSV, domain.BufferTarget{Handle: 1}, 0, 1)
	assert.ErrorIs(t, err, export.ErrNoSink)
}

func TestHandler_HistorySurvivesRestart(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "dbconduit.db"))
	require.NoError(t, err)
	defer db.Close()
	opts := service.Options{
		Archive:  storage.NewArchiveStore(db),
		Recorder: storage.NewCallStore(db),
		Purger:   storage.NewCallStore(db),
	}
	spec := domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: seedDB(t, 20)}

	first := service.NewHandler(opts)
	first.AddSource(source.NewMemorySource("memory", spec))
	det, err := first.ConnectionExecute("sqlitedb1", "SELECT n FROM numbers ORDER BY n")
	require.NoError(t, err)
	waitCall(t, first, det.ID)
	first.Close(context.Background())

	second := newHandler(t, opts)
	second.AddSource(source.NewMemorySource("memory", spec))
	calls := second.ConnectionGetCalls("sqlitedb1")
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallStateArchived, calls[0].State)

	sink := &pageSink{}
	total := second.CallDisplayResult(det.ID, sink, 5, 8)
	assert.Equal(t, 20, total)
	assert.Equal(t, []domain.Row{{float64(5)}, {float64(6)}, {float64(7)}}, sink.rows)

	// removing the connection drops its persisted history
	src := second.GetSources()[0].(*source.MemorySource)
	require.NoError(t, src.Save([]domain.ConnectionSpec{spec}, source.SaveDelete))
	require.NoError(t, second.SourceReload("memory"))
	left, err := storage.NewCallStore(db).ListCalls("sqlitedb1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestHandler_ResolvesSecretsInURL(t *testing.T) {
	store := secret.NewMemoryStore()
	require.NoError(t, store.Set("db-path", []byte(seedDB(t, 2))))
	h := newHandler(t, service.Options{Resolver: secret.NewResolver(store)})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "db1", Type: "sqlite", URL: "{{secret:db-path}}"}))

	conns := h.SourceGetConnections("memory")
	require.Len(t, conns, 1)
	assert.Equal(t, "{{secret:db-path}}", conns[0].URL)

	det, _ := h.ConnectionExecute("sqlitedb1", "SELECT COUNT(*) FROM numbers")
	final := waitCall(t, h, det.ID)
	assert.Equal(t, domain.CallStateArchived, final.State)
}

func TestHandler_WatchFileSource(t *testing.T) {
	h := newHandler(t, service.Options{})
	path := filepath.Join(t.TempDir(), "connections.json")
	fs := source.NewFileSource(path)
	h.AddSource(fs)

	n, err := h.WatchSources()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data := fmt.Sprintf(`[{"name":"db1","type":"sqlite","url":%q}]`, seedDB(t, 1))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	require.Eventually(t, func() bool {
		return len(h.SourceGetConnections(path)) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHandler_AutoReloadSchedule(t *testing.T) {
	h := newHandler(t, service.Options{})
	assert.Error(t, h.StartAutoReload("not a cron"))
	require.NoError(t, h.StartAutoReload("@every 1h"))
	h.StopAutoReload()
}

// stallingDriver returns cursors that block until canceled and then take a
// moment to abort, like a server acknowledging a cancel request.
type stallingDriver struct{}

func (stallingDriver) Ping(context.Context) error { return nil }
func (stallingDriver) Query(context.Context, string) (dbclient.Cursor, error) {
	return stallingCursor{}, nil
}
func (stallingDriver) Structure(context.Context) ([]domain.StructureNode, error) { return nil, nil }
func (stallingDriver) Close() error                                              { return nil }

type stallingCursor struct{}

func (stallingCursor) Header() domain.Header { return domain.Header{"n"} }
func (stallingCursor) Next(ctx context.Context) (domain.Row, error) {
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return nil, ctx.Err()
}
func (stallingCursor) Close() error { return nil }

func TestHandler_CloseRecordsCanceledCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbconduit.db")
	db, err := storage.New(path)
	require.NoError(t, err)

	h := service.NewHandler(service.Options{
		Archive:  storage.NewArchiveStore(db),
		Recorder: storage.NewCallStore(db),
		DriverFactory: func(domain.ConnectionSpec) (dbclient.Driver, error) {
			return stallingDriver{}, nil
		},
	})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "slow", Type: "postgres", URL: "postgres://slow"}))
	det, err := h.ConnectionExecute("postgresslow", "SELECT pg_sleep(60)")
	require.NoError(t, err)

	// the grace period runs out while the call is still draining
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	h.Close(ctx)
	require.NoError(t, db.Close())

	reopened, err := storage.New(path)
	require.NoError(t, err)
	defer reopened.Close()
	calls, err := storage.NewCallStore(reopened).ListCalls("postgresslow")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, det.ID, calls[0].ID)
	assert.Equal(t, domain.CallStateCanceled, calls[0].State)
}

func TestHandler_WaitCall(t *testing.T) {
	h := newHandler(t, service.Options{
		DriverFactory: func(domain.ConnectionSpec) (dbclient.Driver, error) {
			return stallingDriver{}, nil
		},
	})
	h.AddSource(source.NewMemorySource("memory", domain.ConnectionSpec{Name: "slow", Type: "postgres", URL: "postgres://slow"}))
	det, err := h.ConnectionExecute("postgresslow", "SELECT pg_sleep(60)")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := h.WaitCall(ctx, det.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, got.State.IsTerminal())

	require.NoError(t, h.CallCancel(det.ID))
	got, err = h.WaitCall(context.Background(), det.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateCanceled, got.State)

	_, err = h.WaitCall(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrCallUnknown)
}

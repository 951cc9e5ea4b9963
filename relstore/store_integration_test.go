//go:build integration

package relstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/systeminit/workspace-engine/audit"
	"github.com/systeminit/workspace-engine/changeset"
	"github.com/systeminit/workspace-engine/errs"
	"github.com/systeminit/workspace-engine/scheduler"
	"github.com/systeminit/workspace-engine/snapshot"
)

const schema = `
CREATE TABLE action_executions (
	id TEXT PRIMARY KEY,
	component_id TEXT NOT NULL,
	prototype_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	result BYTEA,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	enqueued_at TIMESTAMPTZ NOT NULL,
	requires_json JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE change_set_overrides (
	change_set_id TEXT NOT NULL,
	lineage_id TEXT NOT NULL,
	winner_hash TEXT NOT NULL,
	loser_hash TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL,
	winner_is_us BOOLEAN NOT NULL
);
CREATE TABLE change_set_approvals (
	change_set_id TEXT NOT NULL,
	requirement_id TEXT NOT NULL,
	subtree TEXT NOT NULL,
	approver TEXT NOT NULL,
	checksum TEXT NOT NULL,
	approved_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE audit_log (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
`

// setupPostgres starts a disposable PostgreSQL container and returns a
// ready-to-use Store, adapted from db/postgres_integration_test.go's
// testcontainers-go setup (gorm swapped for pgxpool, per this package's
// connection-pool style).
func setupPostgres(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	store, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Execute(ctx, schema))

	cleanup := func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return store, cleanup
}

func TestEnqueueGetUpdateRoundTrip(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	action := &scheduler.Action{
		ID:          "action-1",
		Kind:        scheduler.KindCreate,
		ComponentID: snapshot.NodeID("component-1"),
		PrototypeID: snapshot.NodeID("proto-1"),
		Status:      scheduler.StatusQueued,
		EnqueuedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Enqueue(ctx, action))

	loaded, err := store.Get(ctx, action.ID)
	require.NoError(t, err)
	require.Equal(t, action.Kind, loaded.Kind)
	require.Equal(t, scheduler.StatusQueued, loaded.Status)

	loaded.Status = scheduler.StatusSuccess
	loaded.Result = []byte(`{"ok":true}`)
	require.NoError(t, store.Update(ctx, loaded))

	reloaded, err := store.Get(ctx, action.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.StatusSuccess, reloaded.Status)
	require.Equal(t, []byte(`{"ok":true}`), reloaded.Result)
}

func TestReadyOnlyReturnsQueuedActions(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	queued := &scheduler.Action{ID: "queued-1", Kind: scheduler.KindCreate, ComponentID: "c1", Status: scheduler.StatusQueued, EnqueuedAt: time.Now().UTC()}
	running := &scheduler.Action{ID: "running-1", Kind: scheduler.KindCreate, ComponentID: "c2", Status: scheduler.StatusRunning, EnqueuedAt: time.Now().UTC()}
	require.NoError(t, store.Enqueue(ctx, queued))
	require.NoError(t, store.Enqueue(ctx, running))
	require.NoError(t, store.Update(ctx, running))

	ready, err := store.Ready(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, scheduler.ID("queued-1"), ready[0].ID)
}

func TestRecordAndLoadOverride(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	o := changeset.Override{
		ChangeSet:  "cs-1",
		Lineage:    "lineage-1",
		WinnerHash: "hash-a",
		LoserHash:  "hash-b",
		AppliedAt:  time.Now().UTC().Truncate(time.Microsecond),
		WinnerIsUs: true,
	}
	require.NoError(t, store.RecordOverride(ctx, o))

	loaded, err := store.Overrides(ctx, "cs-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, o.WinnerHash, loaded[0].WinnerHash)
	require.True(t, loaded[0].WinnerIsUs)
}

func TestRecordAndLoadApproval(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	a := changeset.Approval{
		RequirementID: "req-1",
		Subtree:       "node-1",
		Approver:      "alice",
		Checksum:      "checksum-1",
	}
	require.NoError(t, store.RecordApproval(ctx, "cs-1", a))

	loaded, err := store.Approvals(ctx, "cs-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, a.Approver, loaded[0].Approver)
	require.Equal(t, a.Checksum, loaded[0].Checksum)
}

func TestRecordAndLoadAuditEntry(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	entry := audit.NewErrorEntry("component-1", errs.NewTimeout("refresh"), nil)
	require.NoError(t, store.RecordAuditEntry(ctx, entry))

	loaded, err := store.AuditEntries(ctx, "component-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, entry.ID, loaded[0].ID)
	require.Equal(t, "Timeout", loaded[0].ErrorTag)
}

package project

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/specforge/internal/vfs"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Project{}, &Run{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewRepo(openTestDB(t)), nil, func(vmID string) string {
		return "https://" + vmID + ".vm.test"
	})
}

func TestCreate_SeedsTemplate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, 1, "  Todo  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Name != "Todo" || len(p.ID) != 26 {
		t.Fatalf("unexpected project: %+v", p)
	}

	files, err := svc.Files(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Contains(t, files.Files, "spec/index.md")
	assert.Contains(t, files.Files, "code/package.json")
	assert.Contains(t, files.Files, "code/.env.local")
	require.NotEmpty(t, files.Tree)

	_, err = svc.Create(ctx, 1, "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = svc.Create(ctx, 1, strings.Repeat("x", 101))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestOwnership(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "mine")
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, p.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = svc.Files(ctx, 2, p.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = svc.Get(ctx, 1, "01NOPE")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	list, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].VFS, "list must not load blobs")
}

func TestCreateFile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "files")
	require.NoError(t, err)

	require.NoError(t, svc.CreateFile(ctx, 1, p.ID, "spec/pages/about.md", "# About"))
	got, err := svc.FileContent(ctx, 1, p.ID, "spec/pages/about.md")
	require.NoError(t, err)
	assert.Equal(t, "# About", got)

	assert.ErrorIs(t, svc.CreateFile(ctx, 1, p.ID, "spec/pages/about.md", "again"), ErrFileExists)
	for _, bad := range []string{"", "/abs", "dir/", "a/../b", "a//b"} {
		assert.ErrorIs(t, svc.CreateFile(ctx, 1, p.ID, bad, "x"), ErrInvalidPath, bad)
	}

	_, err = svc.FileContent(ctx, 1, p.ID, "nope.md")
	assert.ErrorIs(t, err, ErrFileNotFound)

	ok, err := svc.Repo().TryClaimProcessing(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, svc.CreateFile(ctx, 1, p.ID, "spec/new.md", "x"), ErrAlreadyProcessing)
}

func TestCorruptVFSIsAnError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "corrupt")
	require.NoError(t, err)
	require.NoError(t, svc.Repo().SaveVFS(ctx, p.ID, `{"files":{}}`))

	_, err = svc.Files(ctx, 1, p.ID)
	assert.ErrorIs(t, err, vfs.ErrInvalidVFS)
	assert.ErrorIs(t, svc.CreateFile(ctx, 1, p.ID, "a.md", "x"), vfs.ErrInvalidVFS)
}

func TestWriteZip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "zip")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteZip(ctx, 1, p.ID, &buf))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["spec/index.md"])
	assert.True(t, names["code/src/App.tsx"])
}

func TestChatAndClear(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "chat")
	require.NoError(t, err)

	require.NoError(t, svc.Repo().SaveEvents(ctx, p.ID, `[{"eventType":"userMessage","markdown":"hi","timestamp":1,"agent":"chat"}]`))
	view, err := svc.Chat(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Len(t, view.Events, 1)
	assert.False(t, view.IsProcessing)

	require.NoError(t, svc.Repo().SaveEvents(ctx, p.ID, `not json`))
	view, err = svc.Chat(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Events)

	require.NoError(t, svc.Repo().SaveHistory(ctx, p.ID, `[{"role":"system","content":"x"}]`))
	require.NoError(t, svc.ClearChat(ctx, 1, p.ID))
	got, err := svc.Repo().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "[]", got.ChatHistory)
	assert.Equal(t, "[]", got.AgentEvents)
}

func TestVMView(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "vm")
	require.NoError(t, err)

	v, err := svc.VM(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.Nil(t, v.VMURL)
	assert.False(t, v.HasDeployed)

	require.NoError(t, svc.Repo().SetVMID(ctx, p.ID, "abc"))
	require.NoError(t, svc.Repo().SetVMStatus(ctx, p.ID, VMReady, ""))
	v, err = svc.VM(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.True(t, v.HasDeployed)
	assert.Nil(t, v.VMURL, "url hidden until the app runs")

	require.NoError(t, svc.Repo().SetAppRunning(ctx, p.ID, true))
	v, err = svc.VM(ctx, 1, p.ID)
	require.NoError(t, err)
	require.NotNil(t, v.VMURL)
	assert.Equal(t, "https://abc.vm.test", *v.VMURL)
	assert.Equal(t, VMReady, v.VMStatus)
}

func TestTryClaimProcessing_SingleWinner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, "race")
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Repo().TryClaimProcessing(ctx, p.ID)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	require.NoError(t, svc.Repo().ReleaseProcessing(ctx, p.ID))
	ok, err := svc.Repo().TryClaimProcessing(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLifecycle(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	run := &Run{ID: "01J0000000000000000000RUN1", ProjectID: "p", UserID: 1, Message: "hi", Status: RunQueued}
	require.NoError(t, repo.CreateRun(ctx, run))

	ok, err := repo.MarkRunRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkRunRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a run starts only once")

	require.NoError(t, repo.MarkRunSucceeded(ctx, run.ID, true, "https://x"))
	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, got.Status)
	assert.True(t, got.SpecModified)
	require.NotNil(t, got.AppURL)

	require.NoError(t, repo.MarkRunFailed(ctx, run.ID, "boom"))
	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)

	_, err = repo.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

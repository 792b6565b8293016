package proxy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func newTestPool(t *testing.T, proxies, blocked string) (*Pool, string, string) {
	t.Helper()
	dir := t.TempDir()
	proxiesFile := filepath.Join(dir, "proxies.txt")
	blockedFile := filepath.Join(dir, "blocked_proxies.txt")
	writeFile(t, proxiesFile, proxies)
	if blocked != "" {
		writeFile(t, blockedFile, blocked)
	}
	pool, err := NewPool(proxiesFile, blockedFile, nil, nil)
	require.NoError(t, err)
	return pool, proxiesFile, blockedFile
}

func TestParseEndpointFormats(t *testing.T) {
	t.Parallel()

	ep := parseEndpoint("alice:secret@10.0.0.1:3128")
	require.Equal(t, "10.0.0.1:3128", ep.Address)
	require.Equal(t, "alice", ep.Username)
	require.Equal(t, "secret", ep.Password)

	ep = parseEndpoint("10.0.0.2:8080:bob:hunter2")
	require.Equal(t, "10.0.0.2:8080", ep.Address)
	require.Equal(t, "bob", ep.Username)
	require.Equal(t, "hunter2", ep.Password)

	ep = parseEndpoint("10.0.0.3:8080:token")
	require.Equal(t, "10.0.0.3:8080", ep.Address)
	require.Equal(t, "token", ep.Username)
	require.Empty(t, ep.Password)

	ep = parseEndpoint("10.0.0.4:8080")
	require.Equal(t, "10.0.0.4:8080", ep.Address)
	require.False(t, ep.HasAuth())
}

func TestLoadCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, strings.Join([]string{
		"first:one@10.0.0.1:3128",
		"# comment",
		"",
		"second:two@10.0.0.1:3128",
		"10.0.0.2:8080",
	}, "\n"), "")

	require.Equal(t, 2, pool.Size())
	ep := pool.Acquire()
	require.NotNil(t, ep)
	require.Equal(t, "10.0.0.1:3128", ep.Address)
	require.Equal(t, "first", ep.Username, "first-seen auth wins")
}

func TestAcquireRoundRobin(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "a:1\nb:2\n", "")

	first := pool.Acquire()
	require.NotNil(t, first)
	require.Equal(t, "a:1", first.Address)

	second := pool.Acquire()
	require.NotNil(t, second)
	require.Equal(t, "b:2", second.Address)

	require.Nil(t, pool.Acquire(), "all endpoints in use")

	pool.Release("a:1")
	third := pool.Acquire()
	require.NotNil(t, third)
	require.Equal(t, "a:1", third.Address)
}

func TestAcquireSkipsBlocked(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "a:1\nb:2\nc:3\n", "")
	require.NoError(t, pool.MarkBlocked("b:2", "http_403"))

	require.Equal(t, "a:1", pool.Acquire().Address)
	require.Equal(t, "c:3", pool.Acquire().Address)
	require.Nil(t, pool.Acquire())
}

func TestMarkBlockedAppendsExactlyOnce(t *testing.T) {
	t.Parallel()

	pool, _, blockedFile := newTestPool(t, "a:1\nb:2\n", "")

	require.NoError(t, pool.MarkBlocked("a:1", "http_403"))
	require.NoError(t, pool.MarkBlocked("a:1", "http_403"))
	require.NoError(t, pool.MarkBlocked("a:1", "http_407"))

	data, err := os.ReadFile(blockedFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "repeated block signals must not duplicate log lines")

	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 3)
	require.Equal(t, "a:1", fields[1])
	require.Equal(t, "http_403", fields[2])
	_, err = time.Parse(time.RFC3339, fields[0])
	require.NoError(t, err)
}

func TestMarkBlockedEvictsInUse(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "a:1\n", "")
	ep := pool.Acquire()
	require.NotNil(t, ep)

	require.NoError(t, pool.MarkBlocked("a:1", "http_403"))
	require.True(t, pool.AllBlocked())

	// Releasing after the block does not make it acquirable.
	pool.Release("a:1")
	require.Nil(t, pool.Acquire())
}

func TestAllBlockedAndRecovery(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "a:1\nb:2\n", "")
	require.NoError(t, pool.MarkBlocked("a:1", "http_403"))
	require.False(t, pool.AllBlocked())

	require.NoError(t, pool.MarkBlocked("b:2", "http_407"))
	require.True(t, pool.AllBlocked())

	waited := make(chan error, 1)
	go func() { waited <- pool.WaitForUnblocked(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("WaitForUnblocked returned while everything was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	pool.MarkAvailable("a:1")
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by MarkAvailable")
	}
	require.False(t, pool.AllBlocked())
}

func TestAllBlockedOnEmptyPool(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "", "")
	require.True(t, pool.AllBlocked())
	require.Nil(t, pool.Acquire())
}

func TestReloadKeepsCursorContinuity(t *testing.T) {
	t.Parallel()

	pool, proxiesFile, _ := newTestPool(t, "a:1\nb:2\nc:3\n", "")

	require.Equal(t, "a:1", pool.Acquire().Address)
	pool.Release("a:1")

	// The last used address survives the reload, so the sweep resumes after it.
	writeFile(t, proxiesFile, "a:1\nb:2\nc:3\nd:4\n")
	n, err := pool.Reload()
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "b:2", pool.Acquire().Address)

	// Dropping the last used address resets the cursor.
	writeFile(t, proxiesFile, "c:3\nd:4\n")
	_, err = pool.Reload()
	require.NoError(t, err)
	require.Equal(t, "c:3", pool.Acquire().Address)
}

func TestReloadAppliesBlockLog(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, "a:1\nb:2\n",
		"2026-01-02T15:04:05Z\ta:1\thttp_403\n")

	ep := pool.Acquire()
	require.NotNil(t, ep)
	require.Equal(t, "b:2", ep.Address)
	require.Nil(t, pool.Acquire())
}

func TestRefreshBlocked(t *testing.T) {
	t.Parallel()

	pool, _, blockedFile := newTestPool(t, "a:1\nb:2\n", "")

	ep := pool.Acquire()
	require.Equal(t, "a:1", ep.Address)

	// Another process records a block for the in-use proxy.
	writeFile(t, blockedFile, "2026-01-02T15:04:05Z\ta:1\tmanual\n")
	require.NoError(t, pool.RefreshBlocked())

	// a:1 is no longer considered in use and never acquirable.
	require.Equal(t, "b:2", pool.Acquire().Address)
	require.Nil(t, pool.Acquire())

	total, blocked, inUse := pool.Stats()
	require.Equal(t, 2, total)
	require.Equal(t, 1, blocked)
	require.Equal(t, 1, inUse)
}

func TestMissingFilesYieldEmptyPool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pool, err := NewPool(filepath.Join(dir, "none.txt"), filepath.Join(dir, "blocked.txt"), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, pool.Size())
}

package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/devserver"
)

// run drives the interactive client with stdin and returns stdout.
func (c *testClient) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	return c.exec(stdin, append([]string{"run", "--poll-interval", "0", "--retry-interval", "0"}, args...)...)
}

func TestRun_AddSyncsAndPersists(t *testing.T) {
	c := newTestClient(t)

	out, err := c.run("add milk\nlist\nquit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Type 'help' for commands.")
	assert.Regexp(t, `✓ todos/addTodo \S+ \(0 queued\)`, out)
	assert.Contains(t, out, "milk")
	assert.NotContains(t, out, "(unsynced)")

	assert.Equal(t, []string{"todos", "addTodo"}, c.server.Calls())
	require.Len(t, c.server.Todos(), 1)
	assert.Equal(t, "milk", c.server.Todos()[0].Title)

	out, err = c.exec("", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued: 0  Unsynced todos: 0")
}

func TestRun_OfflineQueuesThenRestartDrains(t *testing.T) {
	c := newTestClient(t)

	out, err := c.run("offline\nadd eggs\nqueue\nquit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Network: offline")
	assert.Regexp(t, `✓ todos/addTodo \S+ \(1 queued\)`, out)
	assert.Contains(t, out, "1 queued operation(s):")
	assert.Empty(t, c.server.Todos())

	out, err = c.exec("", "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1 queued operation(s):")

	out, err = c.run("quit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 todo(s), 1 queued operation(s).")
	require.Len(t, c.server.Todos(), 1)
	assert.Equal(t, "eggs", c.server.Todos()[0].Title)

	out, err = c.exec("", "queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue empty.\n", out)
}

func TestRun_ToggleAndRemoveFetchedTodos(t *testing.T) {
	c := newTestClient(t)
	c.server = devserver.New(
		devserver.WithTodos(devserver.DefaultTodos()),
		devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	// "online" is a no-op that waits for the startup fetch.
	out, err := c.run("online\ntoggle 1\nremove 2\nlist\nquit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ todos/toggleTodo 1 (0 queued)")
	assert.Contains(t, out, "✓ todos/removeTodo 2 (0 queued)")
	assert.Contains(t, out, "  [x] 1  Learn GraphQL\n")
	assert.NotContains(t, out, "Build a ToDo App")

	assert.Equal(t, []devserver.Todo{{ID: "1", ClientID: "1", Title: "Learn GraphQL", Completed: true}}, c.server.Todos())
}

func TestRun_CommandErrors(t *testing.T) {
	c := newTestClient(t)

	out, err := c.run("online\ntoggle nope\nremove\nadd\nbogus\nhelp\n")
	require.NoError(t, err)
	assert.Contains(t, out, `✗ no todo with id "nope"`)
	assert.Contains(t, out, "✗ usage: remove <id>")
	assert.Contains(t, out, "✗ usage: add <title>")
	assert.Contains(t, out, `✗ unknown command "bogus"`)
	assert.Contains(t, out, "Commands:")
}

func TestRun_MarkerFileKeepsClientOffline(t *testing.T) {
	c := newTestClient(t)
	marker := filepath.Join(c.dir, "offline")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	out, err := c.run("add eggs\nstatus\nquit\n", "--marker-file", marker)
	require.NoError(t, err)
	assert.Regexp(t, `✓ todos/addTodo \S+ \(2 queued\)`, out)
	assert.Contains(t, out, "Network: offline")
	assert.Empty(t, c.server.Calls())
}

func TestRun_RequiresDatabase(t *testing.T) {
	_, err := execute(&RootOptions{Sender: devserver.New()}, "", "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

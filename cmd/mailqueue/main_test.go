package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"

	"github.com/net-tools/mailqueue"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) SendRaw(_ context.Context, to, _ string, _ []byte, _ mailqueue.Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasPrefix(to, "bad@") {
		return errors.New("550 mailbox unavailable")
	}
	m.sent = append(m.sent, to)

	return nil
}

func run(t *testing.T, root string, mailer mailqueue.Mailer, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	c := &cli{out: &out, mailer: mailer}
	cmd := newRootCmd(c)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--root", root}, args...))
	err := cmd.Execute()

	return out.String(), err
}

func mustRun(t *testing.T, root string, mailer mailqueue.Mailer, args ...string) string {
	t.Helper()

	out, err := run(t, root, mailer, args...)
	require.NoError(t, err, out)

	return out
}

func writeMessage(t *testing.T, dir, name, to string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	raw := "From: sender@example.com\r\nTo: " + to + "\r\nSubject: Spring news\r\n\r\nhello " + to + "\r\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	return path
}

func TestCommandsRequireInit(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "store"), nil, "list")
	require.ErrorIs(t, err, mailqueue.ErrMissingStore)
}

func TestQueueLifecycle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	files := t.TempDir()
	mailer := &recordingMailer{}

	out := mustRun(t, root, nil, "init")
	require.Contains(t, out, "store ready")
	require.FileExists(t, filepath.Join(root, mailqueue.CatalogFile))

	id := strings.TrimSpace(mustRun(t, root, nil, "create", "newsletter", "--batch", "2"))
	require.NotEmpty(t, id)

	out = mustRun(t, root, nil, "push", id,
		writeMessage(t, files, "a.eml", "a@example.com"),
		writeMessage(t, files, "b.eml", "bad@example.com"),
		writeMessage(t, files, "c.eml", "c@example.com"),
	)
	require.Contains(t, out, "3 messages pushed")

	out = mustRun(t, root, nil, "list", "--sort", "count", "--order", "desc")
	require.Contains(t, out, id)
	require.Contains(t, out, "newsletter")

	_, err := run(t, root, mailer, "send", id)
	require.ErrorIs(t, err, mailqueue.ErrBatchFailed)
	require.Equal(t, []string{"a@example.com"}, mailer.sent)

	out = mustRun(t, root, mailer, "send", id, "--drain")
	require.Contains(t, out, "3/3 sent")

	out = mustRun(t, root, nil, "recipients", id)
	require.Contains(t, out, "bad@example.com")
	require.Contains(t, out, "error")

	out = mustRun(t, root, nil, "search", id, "c@example.com")
	require.Equal(t, "2", strings.TrimSpace(out))

	mustRun(t, root, nil, "mark-error", id, "2")
	out = mustRun(t, root, nil, "show", id)
	require.Contains(t, out, "set to Error by user")

	retryID := strings.TrimSpace(mustRun(t, root, nil, "retry-errors", id, "retry"))
	out = mustRun(t, root, nil, "recipients", retryID)
	require.Contains(t, out, "bad@example.com")
	require.Contains(t, out, "c@example.com")
	require.NotContains(t, out, "a@example.com")

	out = mustRun(t, root, nil, "eml", id, "0")
	require.Contains(t, out, "To: a@example.com\r\n")
	require.Contains(t, out, "hello a@example.com")

	mustRun(t, root, mailer, "resend", id, "0", "--to", "copy@example.com")
	require.Contains(t, mailer.sent, "copy@example.com")

	mustRun(t, root, nil, "rename", id, "archive")
	mustRun(t, root, nil, "unlock", id)
	mustRun(t, root, nil, "clear-log", id)
	out = mustRun(t, root, nil, "show", id)
	require.Contains(t, out, "archive")
	require.NotContains(t, out, "set to Error by user")

	mustRun(t, root, nil, "delete", id)
	_, err = run(t, root, nil, "show", id)
	require.ErrorIs(t, err, mailqueue.ErrNotFound)

	_, err = run(t, root, nil, "clear")
	require.Error(t, err)
	out = mustRun(t, root, nil, "clear", "--yes")
	require.Contains(t, out, "1 queues deleted")
}

func TestPushMboxAndExport(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	mustRun(t, root, nil, "init")
	id := strings.TrimSpace(mustRun(t, root, nil, "create", "imported"))

	archive := filepath.Join(t.TempDir(), "in.mbox")
	mbox := "From sender@example.com Fri Mar  1 12:00:00 2024\n" +
		"From: sender@example.com\nTo: a@example.com\nSubject: One\n\nBody one\n\n" +
		"From sender@example.com Fri Mar  1 12:00:00 2024\n" +
		"From: sender@example.com\nTo: b@example.com\nSubject: Two\n\nBody two\n"
	require.NoError(t, os.WriteFile(archive, []byte(mbox), 0o600))

	out := mustRun(t, root, nil, "push", id, archive, "--mbox")
	require.Contains(t, out, "2 messages pushed")

	out = mustRun(t, root, nil, "export", id)
	require.True(t, strings.HasPrefix(out, "From sender@example.com "), out)
	require.Contains(t, out, "To: b@example.com")

	exported := filepath.Join(t.TempDir(), "out.mbox")
	mustRun(t, root, nil, "export", id, "-o", exported)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	require.Contains(t, string(data), "Body two")
}

func TestSendAllQueues(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	files := t.TempDir()
	mailer := &recordingMailer{}
	mustRun(t, root, nil, "init")

	first := strings.TrimSpace(mustRun(t, root, nil, "create", "first", "--batch", "1"))
	second := strings.TrimSpace(mustRun(t, root, nil, "create", "second", "--batch", "1"))
	mustRun(t, root, nil, "push", first,
		writeMessage(t, files, "1.eml", "a@example.com"),
		writeMessage(t, files, "2.eml", "b@example.com"),
	)
	mustRun(t, root, nil, "push", second, writeMessage(t, files, "3.eml", "c@example.com"))

	mustRun(t, root, mailer, "send", "--drain")
	require.ElementsMatch(t, []string{"a@example.com", "b@example.com", "c@example.com"}, mailer.sent)

	for _, id := range []string{first, second} {
		out := mustRun(t, root, nil, "show", id)
		require.Contains(t, out, "Pending")
		require.NotContains(t, out, "never")
	}
}

func TestResendRejectsBadIndex(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	mustRun(t, root, nil, "init")
	id := strings.TrimSpace(mustRun(t, root, nil, "create", "q"))

	_, err := run(t, root, &recordingMailer{}, "resend", id, "-1")
	require.Error(t, err)
	_, err = run(t, root, &recordingMailer{}, "resend", id, "4")
	require.ErrorIs(t, err, mailqueue.ErrNotFound)
}

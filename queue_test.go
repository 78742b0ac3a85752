package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type staticComposer struct {
	content string
	headers string
}

func (c staticComposer) Content() []byte {
	return []byte(c.content)
}

func (c staticComposer) Headers() Header {
	h, _ := ParseHeader(c.headers)
	return h
}

type sentMail struct {
	to      string
	subject string
	body    string
	headers Header
}

type recordingMailer struct {
	sent   []sentMail
	failTo map[string]error
}

func (m *recordingMailer) SendRaw(_ context.Context, to, subject string, body []byte, headers Header) error {
	if err := m.failTo[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: string(body), headers: headers})
	return nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()

	opts = append([]StoreOption{WithStoreClock(fixedClock{now: testNow})}, opts...)
	store, err := Open(t.TempDir(), true, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func newTestQueue(t *testing.T, store *Store, batchCount int, recipients ...string) *Queue {
	t.Helper()

	q, err := store.CreateQueue("newsletter", batchCount)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	for _, to := range recipients {
		mail := staticComposer{content: "hello " + to, headers: "Content-Type: text/plain"}
		if err := q.Push(mail, "sender@example.com", to, "Spring news"); err != nil {
			t.Fatalf("push %s: %v", to, err)
		}
	}
	return q
}

func TestCreateQueue_CreatesFolder(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 0)

	info, err := os.Stat(filepath.Join(store.Root(), q.ID()))
	if err != nil {
		t.Fatalf("stat queue folder: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("expected queue folder")
	}
	if q.BatchCount() != DefaultBatchCount {
		t.Fatalf("expected default batch count, got %d", q.BatchCount())
	}
	if !q.Date().Equal(testNow) {
		t.Fatalf("expected creation date %v, got %v", testNow, q.Date())
	}
	if _, ok := q.LastBatchDate(); ok {
		t.Fatalf("expected no last batch date")
	}
}

func TestCreateQueue_StorageFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(root, []byte("x"), filePerm); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := CreateQueue("broken", Params{Root: root}, 1)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestQueue_PushCounters(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com", "bb@example.com", "ccc@example.com")

	if q.Count() != 3 {
		t.Fatalf("expected count 3, got %d", q.Count())
	}
	if q.SendOffset() != 0 {
		t.Fatalf("expected send offset 0, got %d", q.SendOffset())
	}
	if q.Locked() {
		t.Fatalf("expected open queue")
	}
	want := int64(len("hello a@example.com") + len("hello bb@example.com") + len("hello ccc@example.com"))
	if q.Volume() != want {
		t.Fatalf("expected volume %d, got %d", want, q.Volume())
	}
}

func TestQueue_PushRoundTrip(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")

	env, err := ReadEnvelope(q, 0, true)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.To != "a@example.com" || env.Subject != "Spring news" || env.Status != StatusToSend {
		t.Fatalf("unexpected envelope %+v", env)
	}

	headers, err := ParseHeader(env.Headers)
	if err != nil {
		t.Fatalf("parse headers: %v", err)
	}
	if got := headers.Get(QueueHeader); got != q.ID() {
		t.Fatalf("expected marker %q, got %q", q.ID(), got)
	}
	if got := headers.Get("From"); got != "sender@example.com" {
		t.Fatalf("expected From header, got %q", got)
	}
	if got := headers.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("expected composer headers kept, got %q", got)
	}

	body, err := ReadBody(q, 0, true)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body.Content) != "hello a@example.com" {
		t.Fatalf("unexpected body %q", body.Content)
	}
}

func TestQueue_PushRaw(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10)

	if err := q.PushRaw([]byte("raw body"), "From: sender@example.com\nX-Tag: raw", "a@example.com", "Raw"); err != nil {
		t.Fatalf("push raw: %v", err)
	}

	eml, err := q.EMLAt(0)
	if err != nil {
		t.Fatalf("eml: %v", err)
	}
	want := "X-Mailqueue-Id: " + q.ID() + "\r\nFrom: sender@example.com\r\nX-Tag: raw\r\nTo: a@example.com\r\nSubject: Raw\r\n\r\nraw body"
	if eml != want {
		t.Fatalf("expected %q, got %q", want, eml)
	}
}

func TestQueue_PushRawRejectsSplitHeaderBlock(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10)

	err := q.PushRaw([]byte("raw body"), "From: a@example.com\r\n\r\nX-Campaign: spring", "a@example.com", "Raw")
	if !errors.Is(err, ErrMalformedData) {
		t.Fatalf("expected ErrMalformedData, got %v", err)
	}
	if q.Count() != 0 {
		t.Fatalf("expected nothing stored, got %d items", q.Count())
	}

	if err := q.PushRaw([]byte("raw body"), "\r\nFrom: a@example.com\r\nX-Campaign: spring", "a@example.com", "Raw"); err != nil {
		t.Fatalf("push raw: %v", err)
	}
	eml, err := q.EMLAt(0)
	if err != nil {
		t.Fatalf("eml: %v", err)
	}
	want := "X-Mailqueue-Id: " + q.ID() + "\r\nFrom: a@example.com\r\nX-Campaign: spring\r\nTo: a@example.com\r\nSubject: Raw\r\n\r\nraw body"
	if eml != want {
		t.Fatalf("expected %q, got %q", want, eml)
	}
}

func TestQueue_PushReopensLockedQueue(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")

	if err := q.Send(context.Background(), &recordingMailer{}, Header{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !q.Locked() {
		t.Fatalf("expected locked queue")
	}

	if err := q.Push(staticComposer{content: "late"}, "sender@example.com", "b@example.com", "Late"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if q.Locked() || q.Pending() != 1 {
		t.Fatalf("expected reopened queue with one pending item, locked=%v pending=%d", q.Locked(), q.Pending())
	}
}

func TestQueue_SendInBatchesOfOne(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 1, "a@example.com", "b@example.com")
	mailer := &recordingMailer{}

	if err := q.Send(context.Background(), mailer, Header{}); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if q.SendOffset() != 1 || q.Locked() {
		t.Fatalf("expected offset 1 and open queue, got %d locked=%v", q.SendOffset(), q.Locked())
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "a@example.com" {
		t.Fatalf("expected first item sent, got %+v", mailer.sent)
	}

	if err := q.Send(context.Background(), mailer, Header{}); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if q.SendOffset() != 2 || !q.Locked() {
		t.Fatalf("expected offset 2 and locked queue, got %d locked=%v", q.SendOffset(), q.Locked())
	}
	if last, ok := q.LastBatchDate(); !ok || !last.Equal(testNow) {
		t.Fatalf("expected last batch date %v, got %v", testNow, last)
	}

	err := q.Send(context.Background(), mailer, Header{})
	if !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}
}

func TestQueue_SendFailureAccounting(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com", "bad@example.com", "c@example.com")
	mailer := &recordingMailer{failTo: map[string]error{"bad@example.com": errors.New("mailbox unavailable")}}

	err := q.Send(context.Background(), mailer, Header{})
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.QueueID != q.ID() || len(sendErr.Failures) != 1 {
		t.Fatalf("unexpected send error %#v", err)
	}

	if q.SendOffset() != 3 || !q.Locked() {
		t.Fatalf("expected all items attempted, offset=%d locked=%v", q.SendOffset(), q.Locked())
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected remaining items attempted, got %d sent", len(mailer.sent))
	}
	log := q.SendLog()
	if len(log) != 1 || !strings.Contains(log[0], "bad@example.com") || !strings.Contains(log[0], "mailbox unavailable") {
		t.Fatalf("unexpected send log %q", log)
	}

	statuses := map[string]Status{}
	for _, r := range q.Recipients() {
		statuses[r.To] = r.Status
	}
	if statuses["a@example.com"] != StatusSent || statuses["bad@example.com"] != StatusError || statuses["c@example.com"] != StatusSent {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	reloaded, err := Open(store.Root(), false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	persisted, err := reloaded.Queue(q.ID())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if persisted.SendOffset() != 3 || len(persisted.SendLog()) != 1 {
		t.Fatalf("expected batch committed before error, got offset=%d log=%d", persisted.SendOffset(), len(persisted.SendLog()))
	}
}

func TestQueue_SendMergesSupplementalHeaders(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")
	mailer := &recordingMailer{}

	extra, err := ParseHeader("List-Unsubscribe: <mailto:unsubscribe@example.com>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := q.Send(context.Background(), mailer, extra); err != nil {
		t.Fatalf("send: %v", err)
	}

	headers := mailer.sent[0].headers
	if headers.Get("List-Unsubscribe") == "" {
		t.Fatalf("expected supplemental header")
	}
	if headers.Get("From") != "sender@example.com" || headers.Get(QueueHeader) != q.ID() {
		t.Fatalf("expected stored headers kept, got %q", headers.String())
	}
}

func TestQueue_SendMissingBodyMarksError(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com", "b@example.com")
	if err := os.Remove(itemPath(q, 0, bodyExt)); err != nil {
		t.Fatalf("remove body: %v", err)
	}
	mailer := &recordingMailer{}

	err := q.Send(context.Background(), mailer, Header{})
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}
	env, err := ReadEnvelope(q, 0, true)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Status != StatusError {
		t.Fatalf("expected error status, got %v", env.Status)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "b@example.com" {
		t.Fatalf("expected second item still sent, got %+v", mailer.sent)
	}
}

func TestQueue_ResendReportsUnsavedStatusAfterDelivery(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")
	delivered := 0
	mailer := MailerFunc(func(context.Context, string, string, []byte, Header) error {
		delivered++
		return os.RemoveAll(queueDir(q))
	})

	err := q.Resend(context.Background(), mailer, 0, ResendOptions{})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !strings.Contains(err.Error(), "'a@example.com'") || !strings.Contains(err.Error(), "was sent but its status could not be saved") {
		t.Fatalf("expected delivered message context, got %q", err.Error())
	}
	if strings.Contains(err.Error(), "Can't send") {
		t.Fatalf("delivered message reported as a send failure: %q", err.Error())
	}
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
}

func TestQueue_ResendWithOverrides(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")
	mailer := &recordingMailer{}

	err := q.Resend(context.Background(), mailer, 0, ResendOptions{To: "other@example.com", Bcc: "audit@example.com"})
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "other@example.com" {
		t.Fatalf("expected override recipient, got %+v", mailer.sent)
	}
	if got := mailer.sent[0].headers.Get("Bcc"); got != "audit@example.com" {
		t.Fatalf("expected Bcc header, got %q", got)
	}
	if q.SendOffset() != 0 {
		t.Fatalf("expected send offset untouched, got %d", q.SendOffset())
	}
	env, err := ReadEnvelope(q, 0, true)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Status != StatusSent || env.To != "a@example.com" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if err := q.Resend(context.Background(), mailer, 5, ResendOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueue_RecipientError(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")
	if err := q.Send(context.Background(), &recordingMailer{}, Header{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := q.RecipientError(0); err != nil {
		t.Fatalf("recipient error: %v", err)
	}
	if r := q.Recipients(); r[0].Status != StatusError {
		t.Fatalf("expected error status, got %v", r[0].Status)
	}
	if log := q.SendLog(); len(log) != 1 || !strings.Contains(log[0], "a@example.com") {
		t.Fatalf("unexpected send log %q", log)
	}
}

func TestQueue_NewQueueFromErrors(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 7, "a@example.com", "bad@example.com", "c@example.com")
	mailer := &recordingMailer{failTo: map[string]error{"bad@example.com": errors.New("rejected")}}
	if err := q.Send(context.Background(), mailer, Header{}); !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}

	retry, err := q.NewQueueFromErrors("newsletter retry")
	if err != nil {
		t.Fatalf("new queue from errors: %v", err)
	}
	if retry.ID() == q.ID() || retry.BatchCount() != 7 {
		t.Fatalf("unexpected retry queue %s batch=%d", retry.ID(), retry.BatchCount())
	}
	if retry.Count() != 1 {
		t.Fatalf("expected one copied item, got %d", retry.Count())
	}

	env, err := ReadEnvelope(retry, 0, true)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if env.To != "bad@example.com" || env.Status != StatusToSend {
		t.Fatalf("unexpected copy %+v", env)
	}
	headers, err := ParseHeader(env.Headers)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := headers.Get(QueueHeader); got != retry.ID() {
		t.Fatalf("expected marker of new queue, got %q", got)
	}
	if values := headers.Values(QueueHeader); len(values) != 1 {
		t.Fatalf("expected a single marker, got %v", values)
	}

	original, err := ReadEnvelope(q, 1, true)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if original.Status != StatusError {
		t.Fatalf("expected source item untouched, got %v", original.Status)
	}
	if _, err := store.Queue(retry.ID()); err != nil {
		t.Fatalf("expected retry queue registered: %v", err)
	}
}

func TestQueue_NewQueueFromErrorsRemovesPartialCopy(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 7, "a@example.com", "bad1@example.com", "bad2@example.com")
	mailer := &recordingMailer{failTo: map[string]error{
		"bad1@example.com": errors.New("rejected"),
		"bad2@example.com": errors.New("rejected"),
	}}
	if err := q.Send(context.Background(), mailer, Header{}); !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}
	if err := os.Remove(itemPath(q, 2, bodyExt)); err != nil {
		t.Fatalf("remove body: %v", err)
	}
	queues := store.Len()

	if _, err := q.NewQueueFromErrors("newsletter retry"); err == nil {
		t.Fatalf("expected copy error")
	}

	if store.Len() != queues {
		t.Fatalf("expected %d registered queues, got %d", queues, store.Len())
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != q.ID() {
			t.Fatalf("expected partial queue folder removed, found %s", e.Name())
		}
	}
}

func TestQueue_Search(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com", "b@example.com", "c@example.com")
	if err := os.Remove(itemPath(q, 0, envelopeExt)); err != nil {
		t.Fatalf("remove envelope: %v", err)
	}

	index, err := q.Search("c@example.com")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if index != 2 {
		t.Fatalf("expected index 2, got %d", index)
	}

	if _, err := q.Search("nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := len(q.Recipients()); got != 2 {
		t.Fatalf("expected missing envelope skipped, got %d recipients", got)
	}
}

func TestQueue_JSONRestoreAndSetup(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com")

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), store.Root()) {
		t.Fatalf("expected root not persisted: %s", data)
	}

	var restored Queue
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Root() != "" {
		t.Fatalf("expected root unset, got %q", restored.Root())
	}
	if err := restored.Rename("renamed"); !errors.Is(err, ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}

	restored.Setup(Params{Root: store.Root() + "/", Registry: store})
	if restored.Root() != store.Root() {
		t.Fatalf("expected trailing separator trimmed, got %q", restored.Root())
	}
	if restored.ID() != q.ID() || restored.Count() != 1 {
		t.Fatalf("unexpected restored queue %+v", restored.State())
	}
	env, err := ReadEnvelope(&restored, 0, true)
	if err != nil {
		t.Fatalf("read through restored queue: %v", err)
	}
	if env.To != "a@example.com" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestQueue_MutatorsCommit(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "bad@example.com")
	mailer := &recordingMailer{failTo: map[string]error{"bad@example.com": errors.New("rejected")}}
	_ = q.Send(context.Background(), mailer, Header{})

	if err := q.Rename("renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := q.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := q.ClearLog(); err != nil {
		t.Fatalf("clear log: %v", err)
	}

	reloaded, err := Open(store.Root(), false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	persisted, err := reloaded.Queue(q.ID())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if persisted.Title() != "renamed" || persisted.Locked() || len(persisted.SendLog()) != 0 {
		t.Fatalf("unexpected persisted state %+v", persisted.State())
	}
}

func TestQueue_Delete(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, 10, "a@example.com", "b@example.com")
	dir := filepath.Join(store.Root(), q.ID())

	if err := q.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected folder removed, got %v", err)
	}
	if _, err := store.Queue(q.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	reloaded, err := Open(store.Root(), false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Len() != 0 {
		t.Fatalf("expected empty catalog, got %d queues", reloaded.Len())
	}
}

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/tagging"
	"github.com/segmentio/kafka-go"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	errAt     map[int]error
	commitErr error
	commits   [][]kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if err, ok := f.errAt[f.next]; ok {
		delete(f.errAt, f.next)
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if f.next < len(f.msgs) {
		msg := f.msgs[f.next]
		f.next++
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		err := f.commitErr
		f.commitErr = nil
		return err
	}
	f.commits = append(f.commits, append([]kafka.Message(nil), msgs...))
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) push(msgs ...kafka.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.Offset = int64(len(f.msgs))
		f.msgs = append(f.msgs, m)
	}
}

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, batch := range f.commits {
		for _, m := range batch {
			out = append(out, m.Offset)
		}
	}
	return out
}

// journal records applied effects across the fake stores in order.
type journal struct {
	mu      sync.Mutex
	applied []string
	fail    map[string]int
}

func newJournal() *journal {
	return &journal{fail: map[string]int{}}
}

func (j *journal) record(op, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail[key] > 0 {
		j.fail[key]--
		return errBoom
	}
	j.applied = append(j.applied, op+":"+key)
	return nil
}

func (j *journal) failNext(key string, times int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fail[key] = times
}

func (j *journal) entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.applied...)
}

type memObjects struct {
	j    *journal
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, body []byte, _ string) error {
	if err := m.j.record("put", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), body...)
	return nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	if err := m.j.record("delete_object", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memObjects) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	if err := m.j.record("delete_prefix", prefix); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type memSessions struct {
	j      *journal
	mu     sync.Mutex
	hashes map[string]map[string]string
	values map[string]string
	ttls   map[string]time.Duration
}

func (m *memSessions) HashSet(_ context.Context, key string, fields map[string]string) error {
	if err := m.j.record("hset", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *memSessions) HashSetExisting(_ context.Context, key, field, value string) (bool, error) {
	if err := m.j.record("hset_existing", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *memSessions) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[key] = ttl
	return nil
}

func (m *memSessions) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	if err := m.j.record("set", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memSessions) Delete(_ context.Context, key string) error {
	if err := m.j.record("del", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	delete(m.values, key)
	delete(m.ttls, key)
	return nil
}

type memDocuments struct {
	j    *journal
	mu   sync.Mutex
	docs map[string]tagging.ImageTags
}

func (m *memDocuments) InsertOne(_ context.Context, doc tagging.ImageTags) error {
	if err := m.j.record("upsert_tags", doc.S3Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.docs[doc.S3Key]; ok {
		doc.Caption = existing.Caption
	}
	m.docs[doc.S3Key] = doc
	return nil
}

func (m *memDocuments) UpdateCaption(_ context.Context, s3Key, caption string) (bool, error) {
	if err := m.j.record("caption", s3Key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[s3Key]
	if !ok {
		return false, nil
	}
	doc.Caption = caption
	m.docs[s3Key] = doc
	return true, nil
}

func (m *memDocuments) DeleteOne(_ context.Context, s3Key string) error {
	if err := m.j.record("delete_tags", s3Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, s3Key)
	return nil
}

func (m *memDocuments) DeleteMany(_ context.Context, userID int64) (int64, error) {
	if err := m.j.record("delete_user_tags", userKeyString(userID)); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, doc := range m.docs {
		if doc.UserID == userID {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

func userKeyString(id int64) string {
	return envelope.DeleteAllSnaps{UserID: id}.PartitionKey()
}

type stores struct {
	j         *journal
	objects   *memObjects
	sessions  *memSessions
	documents *memDocuments
}

func newStores() *stores {
	j := newJournal()
	return &stores{
		j:         j,
		objects:   &memObjects{j: j, data: map[string][]byte{}},
		sessions:  &memSessions{j: j, hashes: map[string]map[string]string{}, values: map[string]string{}, ttls: map[string]time.Duration{}},
		documents: &memDocuments{j: j, docs: map[string]tagging.ImageTags{}},
	}
}

func (s *stores) dispatcher() *Dispatcher {
	return NewDispatcher(s.objects, s.sessions, s.documents, discardLogger())
}

type recordingSink struct {
	mu       sync.Mutex
	failures []Failure
}

func (s *recordingSink) LogError(_ context.Context, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
}

func (s *recordingSink) all() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}

// record encodes op the way the producer does.
func record(t *testing.T, op envelope.Operation) kafka.Message {
	t.Helper()
	value, err := envelope.Encode(op)
	if err != nil {
		t.Fatalf("encode %s: %v", op.Kind(), err)
	}
	return kafka.Message{
		Topic: op.Kind().Topic(),
		Key:   []byte(op.PartitionKey()),
		Value: value,
	}
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func TestFileSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, t.TempDir())

	ok, err := store.Save(ctx, "pages/home", []byte("payload\nwith lines"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("save failed: ok=%v err=%v", ok, err)
	}

	has, err := store.Has(ctx, "pages/home")
	if err != nil || !has {
		t.Fatalf("expected has=true, got %v err=%v", has, err)
	}

	data, err := store.Get(ctx, "pages/home")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(data) != "payload\nwith lines" {
		t.Fatalf("payload mismatch: %q", string(data))
	}
}

func TestFileRecordLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clk := newFakeClock()
	store := newTestFile(t, dir, WithClock(clk.Now))

	if ok, err := store.Save(ctx, "a/b", []byte("body"), 90*time.Second); err != nil || !ok {
		t.Fatalf("save failed: ok=%v err=%v", ok, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "a", "b"+DefaultSuffix))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	want := strconv.FormatInt(clk.Now().Add(90*time.Second).Unix(), 10) + "\nbody"
	if string(raw) != want {
		t.Fatalf("record mismatch:\nwant %q\ngot  %q", want, string(raw))
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "b"+DefaultSuffix+DefaultTempSuffix)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file should have been renamed away, stat err=%v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatalf("stat namespace dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != dirPerm {
		t.Fatalf("expected dir perm %o, got %o", dirPerm, perm)
	}
}

func TestFileHasFalseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newTestFile(t, t.TempDir(), WithClock(clk.Now))

	if ok, _ := store.Save(ctx, "k", []byte("v"), 10*time.Second); !ok {
		t.Fatalf("save failed")
	}
	clk.Advance(9 * time.Second)
	if has, _ := store.Has(ctx, "k"); !has {
		t.Fatalf("record should still be valid")
	}
	clk.Advance(time.Second)
	if has, _ := store.Has(ctx, "k"); has {
		t.Fatalf("record should be expired")
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
	if _, err := store.Expiration(ctx, "k"); err != nil {
		t.Fatalf("expired record still has a readable expiration: %v", err)
	}
}

func TestFileGetMissing(t *testing.T) {
	store := newTestFile(t, t.TempDir())
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if has, err := store.Has(context.Background(), "missing"); err != nil || has {
		t.Fatalf("expected has=false, got %v err=%v", has, err)
	}
}

func TestFileDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, t.TempDir())

	if ok, _ := store.Save(ctx, "k", []byte("v"), time.Minute); !ok {
		t.Fatalf("save failed")
	}
	if ok, err := store.Delete(ctx, "k"); err != nil || !ok {
		t.Fatalf("first delete: ok=%v err=%v", ok, err)
	}
	ok, err := store.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("deleting an absent key must not error: %v", err)
	}
	if ok {
		t.Fatalf("deleting an absent key must report false")
	}
}

func TestFileClearNamespace(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, t.TempDir())

	for _, key := range []string{"a/1", "a/2", "b/1"} {
		if ok, err := store.Save(ctx, key, []byte(key), time.Minute); err != nil || !ok {
			t.Fatalf("save %s: ok=%v err=%v", key, ok, err)
		}
	}
	if err := store.ClearNamespace(ctx, "a"); err != nil {
		t.Fatalf("clear namespace: %v", err)
	}

	for _, key := range []string{"a/1", "a/2"} {
		if has, _ := store.Has(ctx, key); has {
			t.Fatalf("%s should have been cleared", key)
		}
	}
	data, err := store.Get(ctx, "b/1")
	if err != nil || string(data) != "b/1" {
		t.Fatalf("b/1 should survive, got %q err=%v", string(data), err)
	}
}

func TestFileClearNamespaceUnderMetacharacterRoot(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, filepath.Join(t.TempDir(), "cache[1]*?"))

	for _, key := range []string{"a/1", "a/2", "b/1"} {
		if ok, err := store.Save(ctx, key, []byte(key), time.Minute); err != nil || !ok {
			t.Fatalf("save %s: ok=%v err=%v", key, ok, err)
		}
	}
	if err := store.ClearNamespace(ctx, "a"); err != nil {
		t.Fatalf("clear namespace: %v", err)
	}
	for _, key := range []string{"a/1", "a/2"} {
		if has, _ := store.Has(ctx, key); has {
			t.Fatalf("%s should have been cleared", key)
		}
	}
	if has, _ := store.Has(ctx, "b/1"); !has {
		t.Fatalf("b/1 should survive")
	}
	if err := store.ClearNamespace(ctx, "missing"); err != nil {
		t.Fatalf("clearing an absent namespace should succeed: %v", err)
	}
}

func TestFileReadsDoNotPinHandles(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, t.TempDir())

	const keys = 64
	for i := 0; i < keys; i++ {
		key := "k" + strconv.Itoa(i)
		if ok, err := store.Save(ctx, key, []byte("v"), time.Minute); err != nil || !ok {
			t.Fatalf("save %s: ok=%v err=%v", key, ok, err)
		}
	}

	before := openFDs(t)
	for i := 0; i < keys; i++ {
		key := "k" + strconv.Itoa(i)
		if has, err := store.Has(ctx, key); err != nil || !has {
			t.Fatalf("has %s: %v %v", key, has, err)
		}
		if _, err := store.Expiration(ctx, key); err != nil {
			t.Fatalf("expiration %s: %v", key, err)
		}
		if _, err := store.Age(ctx, key); err != nil {
			t.Fatalf("age %s: %v", key, err)
		}
		if _, err := store.Get(ctx, key); err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
	}

	store.mu.Lock()
	cached := len(store.handles)
	store.mu.Unlock()
	if cached != 0 {
		t.Fatalf("expected no cached handles after reads, got %d", cached)
	}
	if before >= 0 {
		if after := openFDs(t); after > before+4 {
			t.Fatalf("reads leaked descriptors: before=%d after=%d", before, after)
		}
	}
}

// openFDs counts the process's open descriptors, or -1 without /proc.
func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(entries)
}

func TestFileClearKeepsRoot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFile(t, dir)

	for _, key := range []string{"top", "a/b/c", "a/d"} {
		if ok, _ := store.Save(ctx, key, []byte("x"), time.Minute); !ok {
			t.Fatalf("save %s failed", key)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("root directory should be kept: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root, found %d entries", len(entries))
	}
}

func TestFileExpirationAndAge(t *testing.T) {
	ctx := context.Background()
	store := newTestFile(t, t.TempDir())

	before := time.Now()
	if ok, _ := store.Save(ctx, "k", []byte("v"), time.Hour); !ok {
		t.Fatalf("save failed")
	}

	expires, err := store.Expiration(ctx, "k")
	if err != nil {
		t.Fatalf("expiration: %v", err)
	}
	if expires.Unix() < before.Add(time.Hour).Unix() || expires.Unix() > time.Now().Add(time.Hour).Unix() {
		t.Fatalf("unexpected expiration %v", expires)
	}

	age, err := store.Age(ctx, "k")
	if err != nil {
		t.Fatalf("age: %v", err)
	}
	if age < time.Hour-2*time.Second || age > time.Hour+time.Second {
		t.Fatalf("unexpected age %v", age)
	}

	if _, err := store.Age(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileLockIsExclusiveAcrossEngines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := newTestFile(t, dir)
	second := newTestFile(t, dir)

	if ok, err := first.Lock(ctx, "k"); err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := first.Lock(ctx, "k"); ok {
		t.Fatalf("re-locking within the same engine must report the lock as held")
	}
	if ok, _ := second.Lock(ctx, "k"); ok {
		t.Fatalf("second engine must not acquire a held lock")
	}
	if ok, _ := second.Save(ctx, "k", []byte("intruder"), time.Minute); ok {
		t.Fatalf("save must fail while another engine holds the lock")
	}

	if ok, _ := first.Save(ctx, "k", []byte("owner"), time.Minute); !ok {
		t.Fatalf("lock holder save failed")
	}
	if ok, _ := second.Lock(ctx, "k"); !ok {
		t.Fatalf("lock should be free after save")
	}
	if ok, _ := second.Unlock(ctx, "k"); !ok {
		t.Fatalf("unlock should report true for a held lock")
	}
}

func TestFileLockAfterPublishDoesNotTouchRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writer := newTestFile(t, dir)
	waiter := newTestFile(t, dir)

	if ok, _ := writer.Lock(ctx, "k"); !ok {
		t.Fatalf("writer lock failed")
	}
	// waiter now caches a handle on the inode writer is about to publish.
	if ok, _ := waiter.Lock(ctx, "k"); ok {
		t.Fatalf("waiter must not acquire the lock")
	}
	if ok, _ := writer.Save(ctx, "k", []byte("published"), time.Minute); !ok {
		t.Fatalf("writer save failed")
	}

	if ok, _ := waiter.Lock(ctx, "k"); !ok {
		t.Fatalf("waiter should acquire a fresh temp file")
	}
	data, err := writer.Get(ctx, "k")
	if err != nil || string(data) != "published" {
		t.Fatalf("published record disturbed: %q err=%v", string(data), err)
	}
	if ok, _ := waiter.Save(ctx, "k", []byte("second"), time.Minute); !ok {
		t.Fatalf("waiter save failed")
	}
	data, err = writer.Get(ctx, "k")
	if err != nil || string(data) != "second" {
		t.Fatalf("expected second record, got %q err=%v", string(data), err)
	}
}

func TestFileUnlockWithoutLock(t *testing.T) {
	store := newTestFile(t, t.TempDir())
	ok, err := store.Unlock(context.Background(), "k")
	if err != nil {
		t.Fatalf("unlock error: %v", err)
	}
	if ok {
		t.Fatalf("unlock without a held lock should report false")
	}
}

func TestFileCloseReleasesLocks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	second := newTestFile(t, dir)

	if ok, _ := first.Lock(ctx, "k"); !ok {
		t.Fatalf("lock failed")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ok, _ := second.Lock(ctx, "k"); !ok {
		t.Fatalf("lock should be released by Close")
	}
}

func TestFileReaderSeesReplacedRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writer := newTestFile(t, dir)
	reader := newTestFile(t, dir)

	if ok, _ := writer.Save(ctx, "k", []byte("v1"), time.Minute); !ok {
		t.Fatalf("save v1 failed")
	}
	if has, _ := reader.Has(ctx, "k"); !has {
		t.Fatalf("reader should see v1")
	}
	if ok, _ := writer.Save(ctx, "k", []byte("v2"), 2*time.Minute); !ok {
		t.Fatalf("save v2 failed")
	}

	expires, err := reader.Expiration(ctx, "k")
	if err != nil {
		t.Fatalf("expiration: %v", err)
	}
	if expires.Before(time.Now().Add(time.Minute + 30*time.Second)) {
		t.Fatalf("reader kept reading the replaced record: %v", expires)
	}
	data, err := reader.Get(ctx, "k")
	if err != nil || string(data) != "v2" {
		t.Fatalf("expected v2, got %q err=%v", string(data), err)
	}
}

func TestNewFileRejectsUnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := NewFile(filepath.Join(blocker, "cache"))
	if !errors.Is(err, ErrNotWritable) {
		t.Fatalf("expected ErrNotWritable, got %v", err)
	}
	if _, err := NewFile(""); err == nil {
		t.Fatalf("empty directory should be rejected")
	}
}

func TestFileKeysStayUnderRoot(t *testing.T) {
	dir := t.TempDir()
	store := newTestFile(t, dir)

	testCases := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"plain", "k", filepath.Join(store.Directory(), "k"+DefaultSuffix), false},
		{"nested", "a/b", filepath.Join(store.Directory(), "a", "b"+DefaultSuffix), false},
		{"dot dot collapses", "../escape", filepath.Join(store.Directory(), "escape"+DefaultSuffix), false},
		{"empty", "", "", true},
		{"only slashes", "//", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.filename(tc.key)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("filename mismatch: want %s got %s", tc.want, got)
			}
		})
	}
}

func TestFileCustomSuffixes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFile(t, dir, WithSuffix(".rec"), WithTempSuffix(".part"))

	if ok, _ := store.Lock(ctx, "k"); !ok {
		t.Fatalf("lock failed")
	}
	if _, err := os.Stat(filepath.Join(dir, "k.rec.part")); err != nil {
		t.Fatalf("expected lock target k.rec.part: %v", err)
	}
	if ok, _ := store.Save(ctx, "k", []byte("v"), time.Minute); !ok {
		t.Fatalf("save failed")
	}
	if _, err := os.Stat(filepath.Join(dir, "k.rec")); err != nil {
		t.Fatalf("expected record k.rec: %v", err)
	}
}

func TestFileRespectsCancelledContext(t *testing.T) {
	store := newTestFile(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Has(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := store.Save(ctx, "k", nil, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// newTestFile returns a File rooted at dir that is closed with the test.
func newTestFile(t *testing.T, dir string, opts ...FileOption) *File {
	t.Helper()
	store, err := NewFile(dir, opts...)
	if err != nil {
		t.Fatalf("failed to create file storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

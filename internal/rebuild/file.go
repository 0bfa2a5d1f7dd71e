package rebuild

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
	"github.com/zenoss/zenoss-zep-sub000/internal/event"
)

// ErrStateSuperseded is returned by Replace when another rebuild has taken
// over the backend since prev was loaded.
var ErrStateSuperseded = zerrors.New(zerrors.ErrCodeRebuildFailed, "rebuild state superseded", nil)

const (
	keyBegan        = "began"
	keyUpdated      = "updated"
	keyEnded        = "ended"
	keyIndexed      = "indexed"
	keyExpected     = "expected"
	keyIndexVersion = "index_version"
	keyConfigHash   = "config_hash"
	keyThroughTime  = "through_time"
	keyNextLastSeen = "next_last_seen"
	keyNextUUID     = "next_uuid"
)

// FileStore keeps one "<id>.rebuild" file per backend in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerrors.IOError("create rebuild state directory", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir is the state directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".rebuild")
}

func (f *FileStore) lock(id string) *flock.Flock {
	return flock.New(filepath.Join(f.dir, id+".rebuild.lock"))
}

// Load returns the persisted state, or nil when there is none. A file that
// cannot be parsed counts as none.
func (f *FileStore) Load(id string) (*State, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, zerrors.IOError("read rebuild state", err).WithDetail("backend", id)
	}
	s, err := decode(data)
	if err != nil {
		slog.Warn("rebuild_state_unreadable",
			slog.String("backend", id),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return s, nil
}

// Save writes s atomically.
func (f *FileStore) Save(id string, s State) error {
	l := f.lock(id)
	if err := l.Lock(); err != nil {
		return zerrors.IOError("lock rebuild state", err).WithDetail("backend", id)
	}
	defer func() { _ = l.Unlock() }()
	return f.write(id, s)
}

// Replace saves next only if the persisted state is still the run prev
// belongs to.
func (f *FileStore) Replace(id string, prev, next State) error {
	l := f.lock(id)
	if err := l.Lock(); err != nil {
		return zerrors.IOError("lock rebuild state", err).WithDetail("backend", id)
	}
	defer func() { _ = l.Unlock() }()

	cur, err := f.Load(id)
	if err != nil {
		return err
	}
	if cur == nil || cur.ThroughTime != prev.ThroughTime {
		return ErrStateSuperseded
	}
	return f.write(id, next)
}

// Delete removes the persisted state.
func (f *FileStore) Delete(id string) error {
	err := os.Remove(f.path(id))
	if err != nil && !os.IsNotExist(err) {
		return zerrors.IOError("delete rebuild state", err).WithDetail("backend", id)
	}
	return nil
}

func (f *FileStore) write(id string, s State) error {
	tmp, err := os.CreateTemp(f.dir, id+".rebuild.*.tmp")
	if err != nil {
		return zerrors.IOError("create rebuild state", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(encode(s)); err != nil {
		_ = tmp.Close()
		return zerrors.IOError("write rebuild state", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return zerrors.IOError("sync rebuild state", err)
	}
	if err := tmp.Close(); err != nil {
		return zerrors.IOError("close rebuild state", err)
	}
	if err := os.Rename(tmpName, f.path(id)); err != nil {
		return zerrors.IOError("rename rebuild state", err)
	}
	return nil
}

func encode(s State) []byte {
	kv := map[string]string{
		keyBegan:        strconv.FormatInt(s.Began.UnixMilli(), 10),
		keyUpdated:      strconv.FormatInt(s.Updated.UnixMilli(), 10),
		keyIndexed:      strconv.FormatInt(s.Indexed, 10),
		keyIndexVersion: strconv.Itoa(s.IndexVersion),
		keyConfigHash:   s.ConfigHash,
		keyThroughTime:  strconv.FormatInt(s.ThroughTime, 10),
		keyNextLastSeen: strconv.FormatInt(s.Next.LastSeen, 10),
		keyNextUUID:     s.Next.UUID,
	}
	if s.Ended != nil {
		kv[keyEnded] = strconv.FormatInt(s.Ended.UnixMilli(), 10)
	}
	if s.Expected != nil {
		kv[keyExpected] = strconv.FormatInt(*s.Expected, 10)
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, kv[k])
	}
	return buf.Bytes()
}

func decode(data []byte) (*State, error) {
	kv := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		kv[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var s State
	var err error
	num := func(key string, required bool) int64 {
		v, ok := kv[key]
		if !ok {
			if required && err == nil {
				err = fmt.Errorf("missing %s", key)
			}
			return 0
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil && err == nil {
			err = fmt.Errorf("bad %s: %w", key, perr)
		}
		return n
	}

	s.Began = time.UnixMilli(num(keyBegan, true))
	s.Updated = time.UnixMilli(num(keyUpdated, true))
	s.Indexed = num(keyIndexed, true)
	s.IndexVersion = int(num(keyIndexVersion, true))
	s.ThroughTime = num(keyThroughTime, true)
	s.Next = event.Watermark{LastSeen: num(keyNextLastSeen, false), UUID: kv[keyNextUUID]}
	s.ConfigHash = kv[keyConfigHash]
	if _, ok := kv[keyEnded]; ok {
		ended := time.UnixMilli(num(keyEnded, true))
		s.Ended = &ended
	}
	if _, ok := kv[keyExpected]; ok {
		expected := num(keyExpected, true)
		s.Expected = &expected
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

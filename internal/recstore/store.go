// Package recstore persists session recordings as JSONL streams. A
// recording is written to a .part file and renamed into place on close,
// so a completed file is always whole. Optional at-rest encryption
// wraps the stream with kryptograf using a keystore bundle.
package recstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

const (
	recExt  = ".rec"
	encExt  = ".rec.enc"
	partExt = ".part"

	headerPeekLimit = 8 * 1024
)

// Store manages recordings under one directory.
type Store struct {
	dir string
	log pslog.Logger
}

// Entry describes one recording on disk.
type Entry struct {
	ID        schema.RecordingID
	Path      string
	Size      int64
	ModTime   time.Time
	Encrypted bool
	// Header holds the peeked header for plaintext recordings.
	Header   schema.RecordHeader
	HeaderOK bool
}

// NewStore constructs a recording store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a recording store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("recordings directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("recordings_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns completed recordings sorted by id. Recording ids start
// with the session start timestamp, so the order is chronological.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		name := d.Name()
		if strings.HasSuffix(name, partExt) {
			continue
		}
		var id string
		encrypted := false
		switch {
		case strings.HasSuffix(name, encExt):
			id = strings.TrimSuffix(name, encExt)
			encrypted = true
		case strings.HasSuffix(name, recExt):
			id = strings.TrimSuffix(name, recExt)
		default:
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entry := Entry{
			ID:        schema.RecordingID(id),
			Path:      filepath.Join(s.dir, name),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Encrypted: encrypted,
		}
		if !encrypted {
			if header, ok := peekHeader(entry.Path); ok {
				entry.Header = header
				entry.HeaderOK = true
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Resolve maps a recording id or a filesystem path to an existing file.
func (s *Store) Resolve(idOrPath string) (string, error) {
	idOrPath = strings.TrimSpace(idOrPath)
	if idOrPath == "" {
		return "", fmt.Errorf("recording id: %w", schema.ErrRecordingNotFound)
	}
	if info, err := os.Stat(idOrPath); err == nil && !info.IsDir() {
		return idOrPath, nil
	}
	for _, ext := range []string{recExt, encExt} {
		candidate := filepath.Join(s.dir, idOrPath+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("recording %q: %w", idOrPath, schema.ErrRecordingNotFound)
}

// Remove deletes one recording.
func (s *Store) Remove(idOrPath string) error {
	path, err := s.Resolve(idOrPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if s.log != nil {
			s.log.Warn("recording remove failed", "path", path, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("recording removed", "path", path)
	}
	return nil
}

// peekHeader reads the first line of a plaintext recording without
// decoding the rest of the stream.
func peekHeader(path string) (schema.RecordHeader, bool) {
	f, err := os.Open(path)
	if err != nil {
		return schema.RecordHeader{}, false
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, headerPeekLimit)
	n, _ := f.Read(buf)
	buf = buf[:n]
	if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
		buf = buf[:idx]
	}
	if !gjson.ValidBytes(buf) {
		return schema.RecordHeader{}, false
	}
	version := gjson.GetBytes(buf, "vtgrid")
	if !version.Exists() {
		return schema.RecordHeader{}, false
	}
	header := schema.RecordHeader{
		Version:   int(version.Int()),
		Session:   schema.SessionID(gjson.GetBytes(buf, "session").String()),
		Cols:      int(gjson.GetBytes(buf, "cols").Int()),
		Rows:      int(gjson.GetBytes(buf, "rows").Int()),
		Shell:     gjson.GetBytes(buf, "shell").String(),
		Encrypted: gjson.GetBytes(buf, "encrypted").Bool(),
	}
	if ts := gjson.GetBytes(buf, "started_at").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			header.StartedAt = parsed
		}
	}
	return header, true
}

func recordingID(header schema.RecordHeader) schema.RecordingID {
	session := sanitize(string(header.Session))
	if session == "" {
		session = "session"
	}
	return schema.RecordingID(header.StartedAt.UTC().Format("20060102-150405") + "-" + session)
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

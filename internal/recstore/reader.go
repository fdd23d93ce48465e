package recstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/kryptograf"
	"pkt.systems/vtgrid/schema"
)

// Reader streams events from one completed recording.
type Reader struct {
	path   string
	file   *os.File
	dec    io.ReadCloser
	br     *bufio.Reader
	header schema.RecordHeader
}

// Open resolves and opens a recording for reading. Encrypted
// recordings require the keystore bundle that produced them.
func (s *Store) Open(idOrPath, keystorePath string) (*Reader, error) {
	path, err := s.Resolve(idOrPath)
	if err != nil {
		return nil, err
	}
	encrypted := strings.HasSuffix(path, encExt)
	if encrypted && keystorePath == "" {
		return nil, fmt.Errorf("recording %q: %w", idOrPath, schema.ErrRecordingEncrypted)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var stream io.Reader = file
	var dec io.ReadCloser
	if encrypted {
		id := schema.RecordingID(strings.TrimSuffix(filepath.Base(path), encExt))
		material, root, err := recordingMaterial(keystorePath, id, s.log)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		kg := kryptograf.New(root)
		dec, err = kg.DecryptReader(file, material)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		stream = dec
	}
	br := bufio.NewReader(stream)
	line, err := br.ReadBytes('\n')
	if err != nil {
		if dec != nil {
			_ = dec.Close()
		}
		_ = file.Close()
		return nil, fmt.Errorf("recording header: %w", schema.ErrInvalidRecording)
	}
	var header schema.RecordHeader
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		if dec != nil {
			_ = dec.Close()
		}
		_ = file.Close()
		return nil, fmt.Errorf("recording header: %w", schema.ErrInvalidRecording)
	}
	if header.Version != schema.RecordHeaderVersion {
		if dec != nil {
			_ = dec.Close()
		}
		_ = file.Close()
		return nil, fmt.Errorf("recording version %d: %w", header.Version, schema.ErrInvalidRecording)
	}
	return &Reader{path: path, file: file, dec: dec, br: br, header: header}, nil
}

// Header returns the recording header.
func (r *Reader) Header() schema.RecordHeader {
	return r.header
}

// Path returns the opened file path.
func (r *Reader) Path() string {
	return r.path
}

// Next returns the next event. A truncated final line reads as io.EOF,
// so crash-cut recordings replay up to the cut.
func (r *Reader) Next() (schema.RecordEvent, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return schema.RecordEvent{}, io.EOF
			}
			return schema.RecordEvent{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev schema.RecordEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return schema.RecordEvent{}, fmt.Errorf("recording event: %w", schema.ErrInvalidRecording)
		}
		return ev, nil
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.dec != nil {
		_ = r.dec.Close()
	}
	return r.file.Close()
}

// Info summarizes one recording.
type Info struct {
	Header     schema.RecordHeader
	Path       string
	Size       int64
	Events     map[schema.RecordEventType]int
	DurationMS int64
	Ended      bool
	ExitCode   *int
}

// Info reads a whole recording and returns its summary.
func (s *Store) Info(idOrPath, keystorePath string) (Info, error) {
	r, err := s.Open(idOrPath, keystorePath)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = r.Close() }()
	info := Info{
		Header: r.Header(),
		Path:   r.Path(),
		Events: make(map[schema.RecordEventType]int),
	}
	if stat, err := os.Stat(r.Path()); err == nil {
		info.Size = stat.Size()
	}
	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return info, nil
			}
			return Info{}, err
		}
		info.Events[ev.T]++
		if ev.MS > info.DurationMS {
			info.DurationMS = ev.MS
		}
		if ev.T == schema.RecordEnd {
			info.Ended = true
			info.ExitCode = ev.Exit
		}
	}
}

// Follow streams events from a plaintext recording as they are
// written, tailing the in-progress .part file until the session ends.
// It returns nil once the recording is finalized or an end event is
// seen, and ctx.Err() on cancellation.
func (s *Store) Follow(ctx context.Context, idOrPath string, fn func(schema.RecordEvent) error) error {
	path, err := s.Resolve(idOrPath)
	if err != nil {
		found := false
		for _, ext := range []string{recExt, encExt} {
			candidate := filepath.Join(s.dir, idOrPath+ext+partExt)
			if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
				path = candidate
				found = true
				break
			}
		}
		if !found {
			return err
		}
	}
	if strings.HasSuffix(path, encExt) || strings.HasSuffix(path, encExt+partExt) {
		return fmt.Errorf("recording %q: %w", idOrPath, schema.ErrRecordingEncrypted)
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	notify := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		_ = watcher.Add(filepath.Dir(path))
		go func() {
			for {
				select {
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					select {
					case notify <- struct{}{}:
					default:
					}
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
		defer func() { _ = watcher.Close() }()
	}

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	tailing := strings.HasSuffix(path, partExt)
	finalPath := strings.TrimSuffix(path, partExt)
	var pending []byte
	headerDone := false
	buf := make([]byte, 32*1024)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := bytes.TrimSpace(pending[:idx])
				pending = append(pending[:0], pending[idx+1:]...)
				if len(line) == 0 {
					continue
				}
				if !headerDone {
					var header schema.RecordHeader
					if err := json.Unmarshal(line, &header); err != nil || header.Version != schema.RecordHeaderVersion {
						return fmt.Errorf("recording header: %w", schema.ErrInvalidRecording)
					}
					headerDone = true
					continue
				}
				var ev schema.RecordEvent
				if err := json.Unmarshal(line, &ev); err != nil {
					return fmt.Errorf("recording event: %w", schema.ErrInvalidRecording)
				}
				if err := fn(ev); err != nil {
					return err
				}
				if ev.T == schema.RecordEnd {
					return nil
				}
			}
			continue
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rerr
		}
		if !tailing {
			return nil
		}
		// The open handle survives the final rename; once the final
		// name exists the writer is done and EOF is authoritative.
		if _, err := os.Stat(finalPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		case <-tick.C:
		}
	}
}

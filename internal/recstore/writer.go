package recstore

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

const descriptorPrefix = "vtgrid:rec:"

// Writer appends events to one recording. The stream lives in a .part
// file next to its final name until Close renames it into place.
type Writer struct {
	mu      sync.Mutex
	id      schema.RecordingID
	tmpPath string
	path    string
	file    *os.File
	enc     io.WriteCloser
	out     io.Writer
	closed  bool
	log     pslog.Logger
}

// Create opens a plaintext recording writer and writes the header line.
func (s *Store) Create(header schema.RecordHeader) (*Writer, error) {
	return s.create(header, "")
}

// CreateEncrypted opens an encrypted recording writer backed by the
// keystore bundle at keystorePath.
func (s *Store) CreateEncrypted(header schema.RecordHeader, keystorePath string) (*Writer, error) {
	if keystorePath == "" {
		return nil, errors.New("keystore path is required")
	}
	return s.create(header, keystorePath)
}

func (s *Store) create(header schema.RecordHeader, keystorePath string) (*Writer, error) {
	header.Version = schema.RecordHeaderVersion
	header.Encrypted = keystorePath != ""
	if header.StartedAt.IsZero() {
		header.StartedAt = time.Now()
	}
	id := recordingID(header)
	ext := recExt
	if header.Encrypted {
		ext = encExt
	}
	final := filepath.Join(s.dir, string(id)+ext)
	tmpPath := final + partExt

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if s.log != nil {
			s.log.Warn("recording create failed", "id", id, "err", err)
		}
		return nil, err
	}
	w := &Writer{
		id:      id,
		tmpPath: tmpPath,
		path:    final,
		file:    file,
		out:     file,
		log:     s.log,
	}
	if header.Encrypted {
		material, root, err := recordingMaterial(keystorePath, id, s.log)
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return nil, err
		}
		kg := kryptograf.New(root)
		enc, err := kg.EncryptWriter(file, material)
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			if s.log != nil {
				s.log.Warn("recording create failed", "id", id, "err", err)
			}
			return nil, err
		}
		w.enc = enc
		w.out = enc
	}
	if err := w.writeLine(header); err != nil {
		_ = w.discard()
		return nil, err
	}
	if s.log != nil {
		s.log.Info("recording started", "id", id, "encrypted", header.Encrypted)
	}
	return w, nil
}

// ID returns the recording id.
func (w *Writer) ID() schema.RecordingID {
	return w.id
}

// Path returns the final path the recording is renamed to on Close.
func (w *Writer) Path() string {
	return w.path
}

// PartPath returns the in-progress path, readable while recording.
func (w *Writer) PartPath() string {
	return w.tmpPath
}

// Append writes one event line.
func (w *Writer) Append(ev schema.RecordEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("recording writer is closed")
	}
	return w.writeLine(ev)
}

// Close finishes the stream, fsyncs and renames the .part into place.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			_ = w.file.Close()
			_ = os.Remove(w.tmpPath)
			return err
		}
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		if w.log != nil {
			w.log.Warn("recording finalize failed", "id", w.id, "err", err)
		}
		return err
	}
	if w.log != nil {
		w.log.Info("recording saved", "id", w.id, "path", w.path)
	}
	return nil
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.out.Write(data); err != nil {
		if w.log != nil {
			w.log.Warn("recording write failed", "id", w.id, "err", err)
		}
		return err
	}
	return nil
}

func (w *Writer) discard() error {
	w.closed = true
	if w.enc != nil {
		_ = w.enc.Close()
	}
	_ = w.file.Close()
	return os.Remove(w.tmpPath)
}

// EnsureKeystore creates or loads the keystore bundle at path and
// ensures a root key exists.
func EnsureKeystore(path string, logger pslog.Logger) error {
	if path == "" {
		return errors.New("keystore path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if logger != nil {
			logger.Warn("keystore ensure failed", "err", err)
		}
		return err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("keystore ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("keystore ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("keystore ensure failed", "err", err)
		}
		return err
	}
	if logger != nil {
		logger.Info("keystore ensure ok", "path", path)
	}
	return nil
}

func recordingMaterial(keystorePath string, id schema.RecordingID, log pslog.Logger) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(keystorePath)
	if err != nil {
		if log != nil {
			log.Warn("recording material load failed", "id", id, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		if log != nil {
			log.Warn("recording material load failed", "id", id, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	descName := descriptorPrefix + string(id)
	material, err := store.EnsureDescriptor(descName, root, []byte(descName))
	if err != nil {
		if log != nil {
			log.Warn("recording material ensure failed", "id", id, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		if log != nil {
			log.Warn("recording material commit failed", "id", id, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

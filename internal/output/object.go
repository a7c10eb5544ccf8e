package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ErrClosed is returned when writing to a committed or aborted writer
var ErrClosed = errors.New("object writer is closed")

// ObjectWriter streams a JSON object one key at a time so documents larger
// than memory can be written. The object appears at its final path only on
// Commit.
type ObjectWriter struct {
	path    string
	tmp     *os.File
	w       *bufio.Writer
	pretty  bool
	entries int
	closed  bool
}

// CreateObject starts a JSON object document at path
func CreateObject(path string, pretty bool) (*ObjectWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp_object_*.json")
	if err != nil {
		return nil, err
	}
	ow := &ObjectWriter{
		path:   path,
		tmp:    tmp,
		w:      bufio.NewWriterSize(tmp, 64*1024),
		pretty: pretty,
	}
	if _, err := ow.w.WriteString("{"); err != nil {
		ow.Abort()
		return nil, err
	}
	return ow, nil
}

// Path returns the final document path
func (ow *ObjectWriter) Path() string {
	return ow.path
}

// Entries returns the number of keys written
func (ow *ObjectWriter) Entries() int {
	return ow.entries
}

// WriteEntry appends "key": value. Keys are written in call order and are
// not checked for duplicates.
func (ow *ObjectWriter) WriteEntry(key string, value any) error {
	if ow.closed {
		return ErrClosed
	}
	k, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal key %q: %w", key, err)
	}
	var v []byte
	if ow.pretty {
		v, err = json.MarshalIndent(value, "  ", "  ")
	} else {
		v, err = json.Marshal(value)
	}
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", key, err)
	}

	sep := ","
	if ow.entries == 0 {
		sep = ""
	}
	if ow.pretty {
		sep += "\n  "
	}
	colon := ":"
	if ow.pretty {
		colon = ": "
	}
	for _, chunk := range [][]byte{[]byte(sep), k, []byte(colon), v} {
		if _, err := ow.w.Write(chunk); err != nil {
			return err
		}
	}
	ow.entries++
	return nil
}

// Commit closes the object and renames it into place
func (ow *ObjectWriter) Commit() error {
	if ow.closed {
		return ErrClosed
	}
	ow.closed = true
	tmpName := ow.tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	end := "}\n"
	if ow.pretty && ow.entries > 0 {
		end = "\n}\n"
	}
	if _, err := ow.w.WriteString(end); err != nil {
		_ = ow.tmp.Close()
		return err
	}
	if err := ow.w.Flush(); err != nil {
		_ = ow.tmp.Close()
		return err
	}
	if err := ow.tmp.Sync(); err != nil {
		_ = ow.tmp.Close()
		return err
	}
	if err := ow.tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, ow.path)
}

// Abort discards the document
func (ow *ObjectWriter) Abort() {
	if ow.closed {
		return
	}
	ow.closed = true
	_ = ow.tmp.Close()
	_ = os.Remove(ow.tmp.Name())
}

// ReadObject streams the top-level entries of a JSON object document,
// calling fn with each key and its undecoded value
func ReadObject(r io.Reader, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read object start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read value for %q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read object end: %w", err)
	}
	return nil
}

// ReadObjectFile is ReadObject over a file
func ReadObjectFile(path string, fn func(key string, raw json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReadObject(f, fn)
}

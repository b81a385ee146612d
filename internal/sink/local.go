package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"feedhub/internal/formater"
)

const DefaultDiskPath = "disk_sink.log"

// DiskPath derives a per-worker file path: "out.log" with id "b1" becomes
// "out-b1.log".
func DiskPath(base, id string) string {
	if base == "" {
		base = DefaultDiskPath
	}
	if id == "" {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + id + ext
}

// Disk appends records to a file. Text payloads get one line each; binary
// payloads are written as-is.
type Disk struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewDisk(path string) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open disk sink %s: %w", path, err)
	}
	return &Disk{path: path, file: f}, nil
}

func (d *Disk) Path() string { return d.path }

func (d *Disk) Exec(_ context.Context, record any, f formater.Formater) error {
	enc, err := f.Format(record)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrNotConnected
	}
	if enc.IsBinary() {
		_, err = d.file.Write(enc.Bytes())
	} else {
		_, err = io.WriteString(d.file, enc.String()+"\n")
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", d.path, err)
	}
	return nil
}

func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// Console prints one record per line. Binary payloads print as hex.
type Console struct {
	w io.Writer
}

// stdoutMu serializes console writes across workers.
var stdoutMu sync.Mutex

func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

func (c *Console) Exec(_ context.Context, record any, f formater.Formater) error {
	enc, err := f.Format(record)
	if err != nil {
		return err
	}
	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	_, err = fmt.Fprintln(c.w, enc.String())
	return err
}

func (c *Console) Close() error { return nil }

// Noop formats and discards. Used for benchmarking the pipeline.
type Noop struct{}

func (Noop) Exec(_ context.Context, record any, f formater.Formater) error {
	_, err := f.Format(record)
	return err
}

func (Noop) Close() error { return nil }

package export

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
)

// Writer keeps the last exported batch and optionally writes every batch to
// an output in the Prometheus text format.
type Writer struct {
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	last     *Batch
	lastText []byte
	batches  int64
	services int64
	failures int64
}

// NewWriter creates a Writer. out may be nil to only retain the last batch.
func NewWriter(out io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		out:    out,
		logger: logger,
	}
}

// Export is an Exporter.
func (w *Writer) Export(b *Batch) {
	if b == nil || b.Empty() {
		return
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, b); err != nil {
		w.logger.Error("export_encode_failed", "error", err)
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.last = b
	w.lastText = buf.Bytes()
	w.batches++
	w.services += int64(b.Len())

	if w.out != nil {
		if _, err := w.out.Write(w.lastText); err != nil {
			w.failures++
			w.logger.Error("export_write_failed", "error", err)
			return
		}
	}

	w.logger.Debug("export_batch_sent",
		"host", b.Host,
		"services", b.Len(),
		"bytes", len(w.lastText),
	)
}

// Last returns the last exported batch, or nil.
func (w *Writer) Last() *Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// LastText returns the text encoding of the last exported batch.
func (w *Writer) LastText() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastText
}

// WriteLast writes the last batch to out. It writes nothing before the first
// export.
func (w *Writer) WriteLast(out io.Writer) error {
	text := w.LastText()
	if len(text) == 0 {
		return nil
	}
	_, err := out.Write(text)
	return err
}

// Counts returns the number of exported batches, the total number of
// services across them and the number of failed exports.
func (w *Writer) Counts() (batches, services, failures int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batches, w.services, w.failures
}

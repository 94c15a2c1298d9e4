package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer writes each batch as one JSON line.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter creates a dispatcher writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Dispatch implements Dispatcher.
func (w *Writer) Dispatch(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(b); err != nil {
		return fmt.Errorf("write batch %s: %w", b.CohortID, err)
	}
	return nil
}

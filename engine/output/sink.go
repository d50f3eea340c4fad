// Package output renders the per-URL result stream. Sinks must be safe
// for concurrent Write calls unless documented otherwise.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"arachne/engine/models"
)

// Sink consumes terminal visit records as the crawl produces them.
type Sink interface {
	Write(v models.VisitedURL) error
	Flush() error
	Close() error
	Name() string
}

// TableSink renders aligned text rows.
type TableSink struct {
	mu          sync.Mutex
	w           io.Writer
	wroteHeader bool
}

func NewTableSink(w io.Writer) *TableSink { return &TableSink{w: w} }

func (s *TableSink) Name() string { return "table" }

func (s *TableSink) Write(v models.VisitedURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wroteHeader {
		if _, err := fmt.Fprintf(s.w, "%-6s  %-9s  %-10s  %-9s  %s\n", "STATUS", "TIME", "SIZE", "TYPE", "URL"); err != nil {
			return err
		}
		s.wroteHeader = true
	}
	row := fmt.Sprintf("%-6s  %-9s  %-10s  %-9s  %s",
		statusLabel(v.Status),
		v.Elapsed.Round(time.Millisecond).String(),
		sizeLabel(v.Size),
		v.ContentType.String(),
		v.URL,
	)
	if len(v.Extras) > 0 {
		row += "  " + extrasLabel(v.Extras)
	}
	_, err := fmt.Fprintln(s.w, row)
	return err
}

func (s *TableSink) Flush() error { return nil }
func (s *TableSink) Close() error { return nil }

func statusLabel(status int) string {
	switch status {
	case models.StatusConnectionFail:
		return "ERR-CN"
	case models.StatusTimeout:
		return "ERR-TO"
	case models.StatusServerReset:
		return "ERR-RS"
	case models.StatusSendError:
		return "ERR-SD"
	default:
		return fmt.Sprintf("%d", status)
	}
}

func sizeLabel(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f kB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func extrasLabel(extras map[string]string) string {
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if extras[k] == "" {
			continue
		}
		parts = append(parts, k+"="+extras[k])
	}
	return strings.Join(parts, " ")
}

// JSONLSink writes one JSON object per visit.
type JSONLSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLSink(w io.Writer) *JSONLSink { return &JSONLSink{enc: json.NewEncoder(w)} }

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(v models.VisitedURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

func (s *JSONLSink) Flush() error { return nil }
func (s *JSONLSink) Close() error { return nil }

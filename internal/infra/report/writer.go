package report

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	KindSync       = "sync"
	KindValidation = "validation"
	KindHealth     = "health"
)

// Envelope wraps a report body with its id and generation time.
type Envelope struct {
	ReportID    string    `json:"reportId"`
	Kind        string    `json:"kind"`
	GeneratedAt time.Time `json:"generatedAt"`
	Report      any       `json:"report"`
}

// Writer persists reports as pretty-printed JSON files under a directory.
type Writer struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "reports"
	}
	return &Writer{dir: dir, now: time.Now, entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (w *Writer) newID(at time.Time) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), w.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Write stores body as {dir}/{kind}-{YYYYMMDD-HHMMSS}.json and returns the path.
// Two reports of the same kind within one second get a numeric suffix.
func (w *Writer) Write(kind string, body any) (string, error) {
	at := w.now().UTC()
	id, err := w.newID(at)
	if err != nil {
		return "", fmt.Errorf("report id: %w", err)
	}
	b, err := json.MarshalIndent(Envelope{ReportID: id, Kind: kind, GeneratedAt: at, Report: body}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", kind, err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	base := fmt.Sprintf("%s-%s", kind, at.Format("20060102-150405"))
	path := filepath.Join(w.dir, base+".json")
	for i := 1; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			path = filepath.Join(w.dir, fmt.Sprintf("%s-%d.json", base, i))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create report file: %w", err)
		}
		_, werr := f.Write(append(b, '\n'))
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("write report: %w", werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("close report: %w", cerr)
		}
		return path, nil
	}
}

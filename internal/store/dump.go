package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"exchange-core/internal/logger"
)

// Dumper writes raw response bodies to disk for offline inspection. JSON
// bodies are canonicalized so dumps of the same payload diff cleanly.
type Dumper struct {
	dir string
	now func() time.Time
	seq atomic.Uint64
	log *logger.Entry
}

func NewDumper(dir string, log *logger.Log) *Dumper {
	return &Dumper{
		dir: dir,
		now: time.Now,
		log: logger.OrNop(log).WithComponent("dump"),
	}
}

// Dump stores body under a name derived from label and returns the path.
func (d *Dumper) Dump(label string, body []byte) (string, error) {
	if d == nil || d.dir == "" {
		return "", nil
	}
	payload, ext := body, ".txt"
	if canonical, err := jsoncanonicalizer.Transform(body); err == nil {
		payload, ext = canonical, ".json"
	}
	name := fmt.Sprintf("%s-%06d-%s%s", d.now().UTC().Format("20060102T150405.000"), d.seq.Add(1), sanitizeLabel(label), ext)
	path := filepath.Join(d.dir, name)
	if err := writeFileAtomic(path, payload, 0o600, d.log); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeLabel(label string) string {
	label = strings.Trim(strings.ToLower(label), "/ ")
	var b strings.Builder
	for _, r := range label {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "response"
	}
	return b.String()
}

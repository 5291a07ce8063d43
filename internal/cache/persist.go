package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/l2labs/sequencer/log"
)

// persistedSnapshot is the serialized form written to the rotating file:
// L1 contents plus the dependency edges needed to rebuild invalidation
// state on restart.
type persistedSnapshot struct {
	Entries map[string]entryRecord
	Edges   map[string][]string // dependent -> dependencies, as recorded
}

// persister periodically dumps L1 to a lumberjack-rotated file. It is the
// teacher's own log-rotation library repurposed for cache snapshots
// instead of log lines, and is best-effort throughout: a write or load
// failure is counted and never blocks startup or the hot path.
type persister struct {
	path    string
	writer  *lumberjack.Logger
	errors  int64
}

func newPersister(path string) *persister {
	if path == "" {
		return nil
	}
	return &persister{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    16, // megabytes
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

func (p *persister) save(snap persistedSnapshot) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		p.errors++
		log.Warn("cache persistence encode failed", "err", err)
		return
	}
	compressed, _, err := compress(buf.Bytes(), 0, AlgoDeflate)
	if err != nil {
		p.errors++
		log.Warn("cache persistence compress failed", "err", err)
		return
	}
	// Base64 keeps the compressed bytes free of '\n', so the newline
	// delimiter load splits on never falls inside a snapshot.
	line := base64.StdEncoding.EncodeToString(compressed)
	if _, err := p.writer.Write(append([]byte(line), '\n')); err != nil {
		p.errors++
		log.Warn("cache persistence write failed", "err", err)
	}
}

// load reads the most recent snapshot file (lumberjack's active file,
// i.e. p.path itself — rotation only affects backups). Expired entries
// are skipped on load. Any error is counted, logged, and otherwise
// ignored: persistence must never block startup.
func (p *persister) load() *persistedSnapshot {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.errors++
			log.Warn("cache persistence load failed", "err", err)
		}
		return nil
	}
	// Every save appends one newline-delimited snapshot to the file; the
	// last one wins.
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) == 0 {
		return nil
	}
	last, err := base64.StdEncoding.DecodeString(string(lines[len(lines)-1]))
	if err != nil {
		p.errors++
		log.Warn("cache persistence decode failed", "err", err)
		return nil
	}
	raw, err := decompress(last, true, AlgoDeflate)
	if err != nil {
		p.errors++
		log.Warn("cache persistence decompress failed", "err", err)
		return nil
	}
	var snap persistedSnapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		p.errors++
		log.Warn("cache persistence decode failed", "err", err)
		return nil
	}
	now := time.Now()
	for k, e := range snap.Entries {
		if e.expired(now) {
			delete(snap.Entries, k)
		}
	}
	return &snap
}

func (p *persister) close() error {
	return p.writer.Close()
}

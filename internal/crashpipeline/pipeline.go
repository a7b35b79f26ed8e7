// Package crashpipeline implements spec section 4.11: it watches the
// minidump output directory, fingerprints and deduplicates crashes,
// caps per-kind archive volume, and maintains a Bloom filter so the
// search loop can ask "did this testcase crash?" without touching
// disk.
package crashpipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"sentra-fuzz/internal/ferrors"
	"sentra-fuzz/internal/flog"
)

// maxPerKind is spec 4.11 step 4's MAX_PER_KIND.
const maxPerKind = 250

// pollInterval mirrors the teacher's directory-watcher cadence
// (internal/filesystem.FileWatcher), adapted from a manual
// CheckChanges call to an unattended ticker loop.
const pollInterval = 200 * time.Millisecond

// Summary is the JSON archived alongside a kept dump (spec 4.11 step
// 4: "write a JSON summary").
type Summary struct {
	Fingerprint string    `json:"fingerprint"`
	TestcaseID  uint64    `json:"testcase_id"`
	Reason      string    `json:"reason"`
	Address     uint64    `json:"address"`
	Frames      []Frame   `json:"frames"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Pipeline watches dumpDir for new minidump files and archives
// deduplicated crashes under crashDir/<fingerprint>/<testcase_id>/.
type Pipeline struct {
	dumpDir  string
	crashDir string
	decoder  Decoder
	log      *flog.Logger

	mu       sync.Mutex
	seen     map[string]time.Time // dump file name -> last-processed modtime
	counts   map[Fingerprint]int
	crashers *bloomFilter
}

// New returns a Pipeline that decodes dumps with decoder and archives
// under workspace's dumps/ and crashes/ subdirectories (spec 6's
// on-disk layout).
func New(workspace string, decoder Decoder) *Pipeline {
	return &Pipeline{
		dumpDir:  filepath.Join(workspace, "dumps"),
		crashDir: filepath.Join(workspace, "crashes"),
		decoder:  decoder,
		log:      flog.New("crashpipeline"),
		seen:     make(map[string]time.Time),
		counts:   make(map[Fingerprint]int),
		crashers: newBloomFilter(),
	}
}

// Watch polls the dump directory every pollInterval until ctx is
// cancelled, processing each new or modified dump file as it appears.
func (p *Pipeline) Watch(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOnce()
		}
	}
}

// scanOnce walks dumpDir once, processing any file whose modtime is
// newer than the last time it was seen (the teacher's CheckChanges
// pattern, internal/filesystem/filesystem.go).
func (p *Pipeline) scanOnce() {
	entries, err := os.ReadDir(p.dumpDir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Printf("read dump dir: %v", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		p.mu.Lock()
		last, known := p.seen[entry.Name()]
		p.mu.Unlock()
		if known && !info.ModTime().After(last) {
			continue
		}

		path := filepath.Join(p.dumpDir, entry.Name())
		if err := p.process(path); err != nil {
			p.log.Printf("process %s: %v", path, err)
		}

		p.mu.Lock()
		p.seen[entry.Name()] = info.ModTime()
		p.mu.Unlock()
	}
}

// process runs one dump file through the five steps of spec 4.11.
func (p *Pipeline) process(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ferrors.New(ferrors.TransientIO, "crashpipeline", path, "read dump", err)
	}

	testcaseID, err := extractTestcaseID(raw)
	if err != nil {
		return ferrors.New(ferrors.MalformedModelRef, "crashpipeline", path, "extract testcase id", err)
	}

	decoded, err := p.decoder.Decode(raw)
	if err != nil {
		return ferrors.New(ferrors.TransientIO, "crashpipeline", path, "decode minidump", err)
	}

	fp := fingerprintOf(decoded)

	p.mu.Lock()
	p.crashers.Add(testcaseID)
	count := p.counts[fp]
	keep := count < maxPerKind
	if keep {
		p.counts[fp]++
	}
	p.mu.Unlock()

	if !keep {
		p.log.Printf("dropping crash %s: fingerprint %s already at cap (%d)", path, fp, maxPerKind)
		return nil
	}

	return p.archive(path, raw, fp, testcaseID, decoded)
}

// archive writes the deduplicated dump and its JSON summary under
// crashes/<fingerprint>/<testcase_id>/ (spec 6's on-disk layout).
func (p *Pipeline) archive(dumpPath string, raw []byte, fp Fingerprint, testcaseID uint64, decoded Decoded) error {
	dir := filepath.Join(p.crashDir, fp.String(), strconv.FormatUint(testcaseID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferrors.New(ferrors.TransientIO, "crashpipeline", dir, "create crash dir", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "dump"), raw, 0o644); err != nil {
		return ferrors.New(ferrors.TransientIO, "crashpipeline", dir, "archive dump", err)
	}

	summary := Summary{
		Fingerprint: fp.String(),
		TestcaseID:  testcaseID,
		Reason:      decoded.Reason,
		Address:     decoded.Address,
		Frames:      decoded.Frames,
		ArchivedAt:  time.Now(),
	}
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "info.json"), body, 0o644); err != nil {
		return ferrors.New(ferrors.TransientIO, "crashpipeline", dir, "write crash summary", err)
	}

	p.log.Printf("archived crash %s (testcase %d, fingerprint %s)", dumpPath, testcaseID, fp)
	return nil
}

// Crashed reports whether testcaseID has ever been observed crashing,
// per the Bloom-filter query spec 4.11 step 5 exists for.
func (p *Pipeline) Crashed(testcaseID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crashers.MightContain(testcaseID)
}

// KindCounts returns a snapshot of per-fingerprint archive counts.
func (p *Pipeline) KindCounts() map[Fingerprint]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[Fingerprint]int, len(p.counts))
	for fp, n := range p.counts {
		out[fp] = n
	}
	return out
}


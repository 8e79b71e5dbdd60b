package agent

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"shellmate/internal/domain"
)

const defaultMaxAttachmentBytes = 50 * 1024 * 1024

// runDir is the scratch directory a synthesized command runs in. Attached
// files are written into it before the run and anything the command
// creates or changes there is reported afterwards.
type runDir struct {
	Path     string
	ImageDir string
	Files    []string // materialized attachments, in attachment order

	before map[string]time.Time
}

// newRunDir creates base/<timestamp>-<id> and writes the attachments.
// Images go under images/, everything else in the root.
func newRunDir(base string, atts []domain.Attachment, maxBytes int64) (*runDir, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAttachmentBytes
	}
	name := time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
	d := &runDir{Path: filepath.Join(base, name)}
	d.ImageDir = filepath.Join(d.Path, "images")
	if err := os.MkdirAll(d.ImageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	used := make(map[string]bool)
	for i, a := range atts {
		if int64(len(a.Data)) > maxBytes {
			return nil, fmt.Errorf("attachment %s too large: %d bytes (max: %d)", a.Filename, len(a.Data), maxBytes)
		}
		dir := d.Path
		if a.IsImage() {
			dir = d.ImageDir
		}
		fname := safeFilename(a.Filename, i)
		if used[dir+"/"+fname] {
			fname = strconv.Itoa(i+1) + "-" + fname
		}
		used[dir+"/"+fname] = true

		p := filepath.Join(dir, fname)
		if err := os.WriteFile(p, a.Data, 0o644); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
		d.Files = append(d.Files, p)
	}

	d.before = d.snapshot()
	return d, nil
}

// safeFilename strips directories and characters that are awkward in shell
// words. Quoting still applies wherever the name is interpolated.
func safeFilename(name string, i int) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "file-" + strconv.Itoa(i+1)
	}
	return name
}

// Env returns the variables documented to the model.
func (d *runDir) Env() []string {
	env := []string{
		"BASH_WORK_DIR=" + d.Path,
		"IMAGE_DIR=" + d.ImageDir,
		"FILE_COUNT=" + strconv.Itoa(len(d.Files)),
	}
	for i, f := range d.Files {
		env = append(env, "FILE_"+strconv.Itoa(i+1)+"="+f)
	}
	return env
}

func (d *runDir) snapshot() map[string]time.Time {
	seen := make(map[string]time.Time)
	_ = filepath.WalkDir(d.Path, func(p string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return nil
		}
		if info, err := e.Info(); err == nil {
			seen[p] = info.ModTime()
		}
		return nil
	})
	return seen
}

// OutputFiles lists files created or modified since the directory was
// prepared, sorted by path.
func (d *runDir) OutputFiles() []string {
	var out []string
	for p, mod := range d.snapshot() {
		if prev, ok := d.before[p]; !ok || mod.After(prev) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveIfEmpty deletes the directory when the run produced nothing worth keeping.
func (d *runDir) RemoveIfEmpty() {
	if len(d.Files) == 0 && len(d.OutputFiles()) == 0 {
		_ = os.RemoveAll(d.Path)
	}
}

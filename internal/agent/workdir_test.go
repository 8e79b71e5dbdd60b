package agent

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"shellmate/internal/domain"
)

func TestNewRunDir_PlacesAttachments(t *testing.T) {
	base := t.TempDir()
	d, err := newRunDir(base, []domain.Attachment{
		{Filename: "photo.png", MimeType: "image/png", Data: []byte("PNG")},
		{Filename: "notes.txt", MimeType: "text/plain", Data: []byte("one")},
		{Filename: "../../etc/notes.txt", MimeType: "text/plain", Data: []byte("two")},
	}, 0)
	if err != nil {
		t.Fatalf("newRunDir: %v", err)
	}

	if filepath.Dir(d.Path) != base {
		t.Fatalf("run dir %q not under %q", d.Path, base)
	}
	want := []string{
		filepath.Join(d.ImageDir, "photo.png"),
		filepath.Join(d.Path, "notes.txt"),
		filepath.Join(d.Path, "3-notes.txt"),
	}
	if !reflect.DeepEqual(d.Files, want) {
		t.Fatalf("files:\n got %v\nwant %v", d.Files, want)
	}
	data, err := os.ReadFile(d.Files[2])
	if err != nil || string(data) != "two" {
		t.Fatalf("third attachment: %q, %v", data, err)
	}

	env := strings.Join(d.Env(), "\n")
	for _, kv := range []string{
		"BASH_WORK_DIR=" + d.Path,
		"IMAGE_DIR=" + d.ImageDir,
		"FILE_COUNT=3",
		"FILE_2=" + want[1],
	} {
		if !strings.Contains(env, kv) {
			t.Fatalf("env missing %q:\n%s", kv, env)
		}
	}

	if out := d.OutputFiles(); len(out) != 0 {
		t.Fatalf("attachments reported as output: %v", out)
	}
}

func TestNewRunDir_RejectsLargeAttachment(t *testing.T) {
	_, err := newRunDir(t.TempDir(), []domain.Attachment{{Filename: "big.bin", Data: []byte("12345")}}, 4)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestRunDir_OutputFiles(t *testing.T) {
	d, err := newRunDir(t.TempDir(), []domain.Attachment{
		{Filename: "keep.txt", Data: []byte("same")},
		{Filename: "edit.txt", Data: []byte("before")},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}

	created := filepath.Join(d.Path, "sub", "new.txt")
	os.MkdirAll(filepath.Dir(created), 0o755)
	if err := os.WriteFile(created, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	edited := d.Files[1]
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(edited, future, future); err != nil {
		t.Fatal(err)
	}

	got := d.OutputFiles()
	want := []string{edited, created}
	if edited > created {
		want = []string{created, edited}
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output files:\n got %v\nwant %v", got, want)
	}
}

func TestRunDir_RemoveIfEmpty(t *testing.T) {
	base := t.TempDir()
	d, err := newRunDir(base, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	d.RemoveIfEmpty()
	if _, err := os.Stat(d.Path); !os.IsNotExist(err) {
		t.Fatalf("empty run dir still exists: %v", err)
	}

	kept, _ := newRunDir(base, nil, 0)
	os.WriteFile(filepath.Join(kept.Path, "result.csv"), []byte("a,b"), 0o644)
	kept.RemoveIfEmpty()
	if _, err := os.Stat(kept.Path); err != nil {
		t.Fatalf("run dir with output was removed: %v", err)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		i    int
		want string
	}{
		{"report.pdf", 0, "report.pdf"},
		{"  spaced name.txt ", 0, "spaced name.txt"},
		{"../../etc/passwd", 0, "passwd"},
		{"tab\tname", 0, "tab_name"},
		{"", 2, "file-3"},
		{"..", 0, "file-1"},
	}
	for _, tt := range tests {
		if got := safeFilename(tt.in, tt.i); got != tt.want {
			t.Errorf("safeFilename(%q, %d) = %q, want %q", tt.in, tt.i, got, tt.want)
		}
	}
}

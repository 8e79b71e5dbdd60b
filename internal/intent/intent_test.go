package intent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"shellmate/internal/plan"
	"shellmate/internal/shell"
)

func testClassifier() *Classifier {
	fixed := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	return NewClassifier(ClassifierConfig{
		Home: "/Users/tester",
		Now:  func() time.Time { return fixed },
	})
}

func TestClassify_Time(t *testing.T) {
	c := testClassifier()
	for _, in := range []string{"what time is it?", "What TIME is it", "  tell me the time  ", "what’s the date"} {
		if got := c.Classify(in).Kind; got != Time {
			t.Fatalf("%q: got %s, want time", in, got)
		}
	}
}

func TestClassify_NotTime(t *testing.T) {
	c := testClassifier()
	for _, in := range []string{"install htop", "measure how long make takes", "list my files", "what time zone is tokyo in", ""} {
		if got := c.Classify(in).Kind; got != None {
			t.Fatalf("%q: got %s, want none", in, got)
		}
	}
}

func TestClassify_DesktopTree(t *testing.T) {
	c := testClassifier()
	in := c.Classify("Create a folder tree of ~/Projects on my Desktop, depth 2")
	if in.Kind != DesktopTree {
		t.Fatalf("got %s", in.Kind)
	}
	if in.Depth != 2 {
		t.Fatalf("depth: got %d", in.Depth)
	}
	// "of" is not a root keyword, so the default root applies.
	if in.Root != "" {
		t.Fatalf("root: got %q", in.Root)
	}
}

func TestClassify_DesktopTreeNeedsAllGroups(t *testing.T) {
	c := testClassifier()
	if got := c.Classify("make a tree").Kind; got == DesktopTree {
		t.Fatal("missing desktop keyword should not match")
	}
	if got := c.Classify("clean my desktop").Kind; got != None {
		t.Fatalf("got %s", got)
	}
}

func TestClassify_RootTree(t *testing.T) {
	c := testClassifier()
	in := c.Classify("show me the tree from ~/code/app with depth 4")
	if in.Kind != RootTree {
		t.Fatalf("got %s", in.Kind)
	}
	if in.Root != "/Users/tester/code/app" {
		t.Fatalf("root: got %q", in.Root)
	}
	if in.Depth != 4 {
		t.Fatalf("depth: got %d", in.Depth)
	}
}

func TestClassify_InstallingTreeIsNotATreeRequest(t *testing.T) {
	c := testClassifier()
	for _, in := range []string{
		"install tree from homebrew",
		"get the tree command from brew",
		"make a tree package from source on my desktop",
	} {
		if got := c.Classify(in).Kind; got != None {
			t.Fatalf("%q: got %s, want none", in, got)
		}
	}
}

func TestClassify_OrderTimeFirst(t *testing.T) {
	c := testClassifier()
	if got := c.Classify("what time is it? also make a tree on the desktop").Kind; got != Time {
		t.Fatalf("time should win, got %s", got)
	}
}

func TestClassify_DesktopBeforeRoot(t *testing.T) {
	c := testClassifier()
	in := c.Classify("build a tree from /var/log to my desktop")
	if in.Kind != DesktopTree {
		t.Fatalf("got %s", in.Kind)
	}
	if in.Root != "/var/log" {
		t.Fatalf("root: got %q", in.Root)
	}
}

func TestClassify_FullwidthNormalized(t *testing.T) {
	c := testClassifier()
	// Fullwidth letters fold to ASCII under NFKC.
	if got := c.Classify("ｗｈａｔ ｔｉｍｅ is it").Kind; got != Time {
		t.Fatalf("got %s", got)
	}
}

func TestParseDepth(t *testing.T) {
	cases := map[string]int{
		"depth 99":       8,
		"depth 0":        1,
		"depth 5":        5,
		"with depth: 2":  2,
		"3 levels deep":  3,
		"tree -l 6":      6,
		"no number here": DefaultDepth,
	}
	for in, want := range cases {
		if got := ParseDepth(in); got != want {
			t.Fatalf("ParseDepth(%q) = %d, want %d", in, got, want)
		}
	}
	if got := ParseDepth("depth 9999999999999999999999"); got != MaxDepth {
		t.Fatalf("overflow should clamp, got %d", got)
	}
}

func TestParseRoot(t *testing.T) {
	home := "/Users/tester"
	cases := map[string]string{
		"tree from ~/Documents/Work to desktop":   "/Users/tester/Documents/Work",
		"tree from ~":                             "/Users/tester",
		"tree from /var/log, depth 2":             "/var/log",
		"tree from root":                          "/",
		"tree rooted at /srv/app with depth 3":    "/srv/app",
		"root tree please":                        "/",
		"tree from Projects on desktop":           "/Users/tester/Projects",
		"tree from \"/Volumes/My Disk\" at depth": "/Volumes/My Disk",
		"no keyword at all":                       "",
	}
	for in, want := range cases {
		if got := ParseRoot(in, home); got != want {
			t.Fatalf("ParseRoot(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTimeReply(t *testing.T) {
	c := testClassifier()
	got := c.TimeReply()
	want := "It's 2:07 PM on Tuesday, March 5, 2024 (UTC)."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPlan_RootTreeIsSingleSafeStep(t *testing.T) {
	c := testClassifier()
	p := c.Plan(Intent{Kind: RootTree, Root: "/tmp/it's here", Depth: 2})
	if p == nil || len(p.Steps) != 1 {
		t.Fatalf("expected one step, got %+v", p)
	}
	s := p.Steps[0]
	if s.Safety != plan.Safe || s.RequiresSudo {
		t.Fatalf("tree step should be safe: %+v", s)
	}
	if !strings.Contains(s.Command, `'/tmp/it'\''s here'`) {
		t.Fatalf("root not quoted: %q", s.Command)
	}
	if p.RequiresConsent() {
		t.Fatal("tree plan should not need consent")
	}
}

func TestPlan_DesktopTreeWritesFile(t *testing.T) {
	c := testClassifier()
	p := c.Plan(Intent{Kind: DesktopTree, Depth: 3})
	s := p.Steps[0]
	if !strings.Contains(s.Command, "> '/Users/tester/Desktop/tester-tree.txt'") {
		t.Fatalf("unexpected output redirect: %q", s.Command)
	}
	if c.Plan(Intent{Kind: Time}) != nil {
		t.Fatal("non-tree kinds have no plan")
	}
}

func TestPlan_ListingRunsInShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "alpha", "beta"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "alpha", "note.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := testClassifier()
	p := c.Plan(Intent{Kind: RootTree, Root: root, Depth: 2})
	r := shell.NewRunner(shell.RunnerConfig{Shell: "/bin/sh"})
	res := r.Run(context.Background(), p.Steps[0].Command, 10*time.Second, nil).Collect()
	if !res.OK() {
		t.Fatalf("listing failed: %q", res.Combined)
	}
	for _, name := range []string{"alpha", "beta", "note.txt"} {
		if !strings.Contains(res.Stdout, name) {
			t.Fatalf("listing missing %s:\n%s", name, res.Stdout)
		}
	}
}

//go:build !windows

package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestQuote_Simple(t *testing.T) {
	if got := Quote("abc"); got != "'abc'" {
		t.Fatalf("got %q", got)
	}
	if got := Quote("it's"); got != `'it'\''s'` {
		t.Fatalf("got %q", got)
	}
	if got := Quote(""); got != "''" {
		t.Fatalf("got %q", got)
	}
}

func TestQuote_RoundTripThroughShell(t *testing.T) {
	inputs := []string{
		"plain",
		"it's",
		"''",
		"a'b'c'",
		`back\slash`,
		"$HOME",
		"$(touch /tmp/pwned)",
		"`id`",
		"semi; rm -rf /",
		"pipe | cat",
		"new\nline",
		"tab\there",
		"  spaces  ",
		`"double"`,
		"glob*?[x]",
		"!bang",
		"ünïcødé ✓",
		"",
	}
	r := NewRunner(RunnerConfig{Shell: "/bin/sh", Logger: testLogger()})
	for _, in := range inputs {
		res := r.Run(context.Background(), "printf %s "+Quote(in), 5*time.Second, nil).Collect()
		if !res.OK() {
			t.Fatalf("shell failed for %q: %q", in, res.Combined)
		}
		if res.Stdout != in {
			t.Fatalf("round trip mismatch: got %q want %q", res.Stdout, in)
		}
	}
}

func TestFormat_QuotesEveryArgument(t *testing.T) {
	got := Format("git clone %s %s", "https://x/y.git", "/usr/local/src/it's")
	want := `git clone 'https://x/y.git' '/usr/local/src/it'\''s'`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("a b", "c"); got != "'a b' 'c'" {
		t.Fatalf("got %q", got)
	}
}

func TestExport(t *testing.T) {
	if got := Export("IMAGE_DIR", "/tmp/x y"); got != "export IMAGE_DIR='/tmp/x y'; " {
		t.Fatalf("got %q", got)
	}
}

func TestWithPath_PrependsPackageManagerDirs(t *testing.T) {
	got := WithPath("brew --version")
	if !strings.HasPrefix(got, `export PATH="/opt/homebrew/bin:/opt/homebrew/sbin:/usr/local/bin:/usr/local/sbin:$PATH"; `) {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.HasSuffix(got, "brew --version") {
		t.Fatalf("command missing: %q", got)
	}
}

func TestSudoWrap(t *testing.T) {
	got := SudoWrap("echo 'x'")
	if !strings.HasPrefix(got, "sudo -S -p '' /bin/sh -c '") {
		t.Fatalf("unexpected wrap: %q", got)
	}
	if !strings.Contains(got, `echo '\''x'\''`) {
		t.Fatalf("inner command not escaped: %q", got)
	}
}

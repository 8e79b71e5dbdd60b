package intent

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shellmate/internal/plan"
)

const treeTimeout = 120 * time.Second

// listingFormat prints an indented tree of a directory, using tree(1) when
// it is installed and find+awk otherwise. Args: depth, root, root, depth,
// path-component count of root.
const listingFormat = `if command -v tree >/dev/null 2>&1; then tree -L %s %s; ` +
	`else find %s -maxdepth %s -not -path '*/.*' -print | sort | ` +
	`awk -F/ -v base=%s '{ d = NF - base; s = ""; for (i = 0; i < d; i++) s = s "  "; print s $NF }'; fi`

func listingArgs(root string, depth int) []string {
	d := strconv.Itoa(depth)
	return []string{d, root, root, d, strconv.Itoa(componentBase(root))}
}

// componentBase is the awk field count of root itself, so the root line
// gets no indentation.
func componentBase(root string) int {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return 1
	}
	return strings.Count(root, "/") + 1
}

// TreeOutputPath is where a desktop tree export for root is written.
func TreeOutputPath(home, root string) string {
	name := filepath.Base(root)
	if name == "/" || name == "." || name == "" {
		name = "root"
	}
	return filepath.Join(home, "Desktop", name+"-tree.txt")
}

// Plan turns a tree intent into a one-step plan. Other kinds return nil.
func (c *Classifier) Plan(in Intent) *plan.Plan {
	root := in.Root
	if root == "" {
		root = c.home
	}
	depth := in.Depth
	if depth == 0 {
		depth = DefaultDepth
	}

	switch in.Kind {
	case RootTree:
		step := plan.NewStep("List "+root+" to depth "+strconv.Itoa(depth), plan.Safe, treeTimeout,
			listingFormat, listingArgs(root, depth)...)
		return plan.Single("Show the directory tree of "+root, step)

	case DesktopTree:
		out := TreeOutputPath(c.home, root)
		args := append([]string{filepath.Dir(out)}, listingArgs(root, depth)...)
		args = append(args, out, "Saved directory tree to "+out)
		step := plan.NewStep("Write tree of "+root+" to "+out, plan.Safe, treeTimeout,
			"mkdir -p %s && { "+listingFormat+"; } > %s && echo %s", args...)
		return plan.Single("Export the directory tree of "+root+" to the Desktop", step)
	}
	return nil
}

// TimeReply answers a time question.
func (c *Classifier) TimeReply() string {
	now := c.now()
	return "It's " + now.Format("3:04 PM") + " on " + now.Format("Monday, January 2, 2006") + " (" + now.Format("MST") + ")."
}

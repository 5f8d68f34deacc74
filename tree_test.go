package composefs_test

import (
	"errors"
	"testing"

	"github.com/doanac/composefs"
)

func mustAddChild(t *testing.T, parent, child *composefs.Node, name string) {
	t.Helper()
	if err := parent.AddChild(child, name); err != nil {
		t.Fatalf("AddChild(%q): %v", name, err)
	}
}

func TestComputeTreeAssignsBreadthFirstInodeNumbers(t *testing.T) {
	root := newDir()
	sub := newDir()
	leaf := newFile()
	mustAddChild(t, root, sub, "sub")
	mustAddChild(t, root, newFile(), "a.txt")
	mustAddChild(t, sub, leaf, "leaf.txt")

	tree, err := composefs.ComputeTree(root)
	if err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	if len(tree.Nodes) != 4 {
		t.Fatalf("len(Nodes) = %d, want 4", len(tree.Nodes))
	}
	if tree.Nodes[0] != root {
		t.Fatal("root is not inode 0")
	}
	// root's two children (a.txt, sub) are numbered before sub's own child,
	// since ComputeTree visits breadth-first.
	seenLeafAt := -1
	for i, n := range tree.Nodes {
		if n == leaf {
			seenLeafAt = i
		}
	}
	if seenLeafAt != 3 {
		t.Fatalf("leaf.txt assigned inode %d, want 3 (last, breadth-first)", seenLeafAt)
	}
}

func TestComputeTreeSortsChildrenBytewise(t *testing.T) {
	root := newDir()
	mustAddChild(t, root, newFile(), "banana")
	mustAddChild(t, root, newFile(), "Apple")
	mustAddChild(t, root, newFile(), "apple")

	tree, err := composefs.ComputeTree(root)
	if err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	got := make([]string, len(root.Children()))
	for i, c := range root.Children() {
		got[i] = c.Name()
	}
	want := []string{"Apple", "apple", "banana"} // 'A' (0x41) < 'a' (0x61) < 'b'
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted children = %v, want %v", got, want)
		}
	}
	_ = tree
}

func TestComputeTreeSetsDirectoryLinkCount(t *testing.T) {
	root := newDir()
	mustAddChild(t, root, newDir(), "d1")
	mustAddChild(t, root, newDir(), "d2")
	mustAddChild(t, root, newFile(), "f")

	if _, err := composefs.ComputeTree(root); err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	if root.Mode()&composefs.S_IFMT != composefs.S_IFDIR {
		t.Fatal("root lost its directory mode bit")
	}
	_, img := finalize(t, root)
	if img.Inodes[0].Nlink != 4 {
		t.Fatalf("root nlink = %d, want 4 (2 + two subdirectories)", img.Inodes[0].Nlink)
	}
}

func TestComputeTreeRejectsCycle(t *testing.T) {
	a, b := newDir(), newDir()
	// AddChild only rejects a child that already has a parent; it does not
	// by itself prevent a container from ending up inside its own
	// descendant, so a directory cycle is reachable through the public API
	// and must be caught by ComputeTree's inTree guard instead.
	mustAddChild(t, a, b, "b")
	mustAddChild(t, b, a, "a")

	if _, err := composefs.ComputeTree(a); err == nil {
		t.Fatal("ComputeTree accepted a cyclic tree")
	} else if !errors.Is(err, composefs.ErrInvalidArgument) {
		t.Fatalf("ComputeTree cycle: got %v, want ErrInvalidArgument", err)
	}
}

func TestComputeTreeHardlinkAliasNotNumbered(t *testing.T) {
	root := newDir()
	target := newFile()
	mustAddChild(t, root, target, "real")

	alias := newFile()
	if err := alias.MakeHardlink(target); err != nil {
		t.Fatalf("MakeHardlink: %v", err)
	}
	mustAddChild(t, root, alias, "alias")

	tree, err := composefs.ComputeTree(root)
	if err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	// root + target only; alias is never assigned its own inode.
	if len(tree.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2 (alias must not be numbered)", len(tree.Nodes))
	}
	for _, n := range tree.Nodes {
		if n == alias {
			t.Fatal("hard-link alias was assigned an inode number")
		}
	}
}

func TestTreeStatResolvesHardlinks(t *testing.T) {
	root := newDir()
	target := newFile()
	mustAddChild(t, root, target, "real")
	alias := newFile()
	if err := alias.MakeHardlink(target); err != nil {
		t.Fatalf("MakeHardlink: %v", err)
	}
	mustAddChild(t, root, alias, "alias")

	tree, err := composefs.ComputeTree(root)
	if err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	got, err := tree.Stat("alias")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got != target {
		t.Fatal("Stat(\"alias\") did not resolve to the hard-link target")
	}
}

func TestTreeStatNotFound(t *testing.T) {
	root := newDir()
	tree, err := composefs.ComputeTree(root)
	if err != nil {
		t.Fatalf("ComputeTree: %v", err)
	}
	if _, err := tree.Stat("nope"); !errors.Is(err, composefs.ErrNotFound) {
		t.Fatalf("Stat missing: got %v, want ErrNotFound", err)
	}
}

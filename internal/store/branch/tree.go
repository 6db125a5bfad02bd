package branch

import (
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// writeBlob stores raw content as a blob object.
func writeBlob(st storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

// writeTree builds the nested tree objects for a flat path->blob map and
// returns the root tree hash. Entry order follows git's tree sorting,
// where a directory name compares as if it had a trailing slash.
func writeTree(st storer.EncodedObjectStorer, files map[string]plumbing.Hash) (plumbing.Hash, error) {
	blobs := make(map[string]plumbing.Hash, len(files))
	subtrees := make(map[string]map[string]plumbing.Hash)
	for path, hash := range files {
		if i := strings.IndexByte(path, '/'); i >= 0 {
			dir, rest := path[:i], path[i+1:]
			if subtrees[dir] == nil {
				subtrees[dir] = make(map[string]plumbing.Hash)
			}
			subtrees[dir][rest] = hash
		} else {
			blobs[path] = hash
		}
	}

	entries := make([]object.TreeEntry, 0, len(blobs)+len(subtrees))
	for name, hash := range blobs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
	}
	for name, children := range subtrees {
		hash, err := writeTree(st, children)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	sort.Slice(entries, func(i, j int) bool {
		return treeEntryName(entries[i]) < treeEntryName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := st.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func treeEntryName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// writeCommit stores a commit object for the tree, parented on parent
// when non-zero.
func writeCommit(st storer.EncodedObjectStorer, tree plumbing.Hash, parent plumbing.Hash, author object.Signature, message string) (plumbing.Hash, error) {
	commit := &object.Commit{
		Author:    author,
		Committer: author,
		Message:   message,
		TreeHash:  tree,
	}
	if parent != plumbing.ZeroHash {
		commit.ParentHashes = []plumbing.Hash{parent}
	}
	obj := st.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

// listFiles flattens a commit's tree into a path->blob map.
func listFiles(commit *object.Commit) (map[string]plumbing.Hash, error) {
	files := make(map[string]plumbing.Hash)
	if commit == nil {
		return files, nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	iter := tree.Files()
	defer iter.Close()
	err = iter.ForEach(func(f *object.File) error {
		files[f.Name] = f.Hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

package relayclient

import (
	"os"
	"path/filepath"
)

// discoverRepoDirs lists top-level directories under ~/repos, returning
// paths in the same "~/repos/<name>" form the relayer expects to store.
func discoverRepoDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	root := filepath.Join(home, "repos")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, "~/repos/"+e.Name())
		}
	}
	return out, nil
}

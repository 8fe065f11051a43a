package alias

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir stores one file per alias, holding whitespace-separated codes.
type Dir struct {
	path string
}

func NewDir(path string) *Dir {
	return &Dir{path: path}
}

func (d *Dir) Load(name string) (Set, bool, error) {
	if err := checkName(name); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return NewSet(strings.Fields(string(b))...), true, nil
}

func (d *Dir) Save(name string, set Set) error {
	if err := checkName(name); err != nil {
		return err
	}
	body := strings.Join(set.Sorted(), "\n")
	if body != "" {
		body += "\n"
	}
	return writeFileAtomic(filepath.Join(d.path, name), []byte(body))
}

func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

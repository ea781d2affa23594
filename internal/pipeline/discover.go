package pipeline

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/joseph-ayodele/bookrenamer/constants"
	"github.com/joseph-ayodele/bookrenamer/internal/common"
)

// Discover lists the supported e-books directly inside dir, sorted by name. Subdirectories are
// not descended into and files with other extensions are ignored without comment.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, common.NewAppError("SOURCE_ERROR", "read source directory", err)
	}

	var out []string
	for _, e := range entries {
		if !constants.IsSupportedExt(filepath.Ext(e.Name())) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if !isRegular(e, p) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func isRegular(e os.DirEntry, path string) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

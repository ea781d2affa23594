//go:build !linux

package rename

func renameNoReplace(oldpath, newpath string) error {
	return linkRename(oldpath, newpath)
}

package operations

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
)

// tarInto writes every file under root into w as a tar stream, paths
// relative to root's parent so the archive extracts back to a
// `<network>_<timestamp>/` directory.
func tarInto(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	base := filepath.Dir(root)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = relPath
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

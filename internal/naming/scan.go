package naming

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Found is a stored file recognised by a strategy.
type Found struct {
	Path       string
	Size       int64
	Attributes Attributes
}

// ScanResult lists the files below a base directory.
type ScanResult struct {
	Files []Found
	// Unmatched holds files at the strategy's depth that did not parse and
	// files at other depths.
	Unmatched []string
}

// Scan walks base and parses every file with s. Hidden files, such as
// partial downloads, are ignored. A missing base yields an empty result.
func Scan(fs afero.Fs, base string, s Strategy) (ScanResult, error) {
	var res ScanResult

	exists, err := afero.DirExists(fs, base)
	if err != nil || !exists {
		return res, err
	}

	err = afero.Walk(fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")
		if len(segments) != s.Depth() {
			res.Unmatched = append(res.Unmatched, p)
			return nil
		}

		attrs, err := s.Parse(segments)
		if err != nil {
			res.Unmatched = append(res.Unmatched, p)
			return nil
		}
		res.Files = append(res.Files, Found{Path: p, Size: info.Size(), Attributes: attrs})
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}
	return res, nil
}

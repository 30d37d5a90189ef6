package containerizer

import (
	"archive/tar"
	"bytes"
	"sort"
	"time"
)

// tarFiles packs files into an uncompressed tar archive with
// deterministic entry order.
func tarFiles(files map[string]string, modTime time.Time) (*bytes.Buffer, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, name := range names {
		content := []byte(files[name])
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

package fetch

import (
	"io"
	"os"
)

// writeToFile streams r to a newly created file at path and returns the
// byte count written.
func writeToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

package receipt

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// PairImagesFromDirectory sorts the photos in dir by path and groups them as
// (front, back) pairs. An odd photo at the end is dropped. It never fails: an
// unreadable directory or fewer than two photos yield an empty slice.
func PairImagesFromDirectory(dir string) []Pair {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Debug("Cannot read image directory", "dir", dir, "error", err)
		return []Pair{}
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)

	pairs := make([]Pair, 0, len(images)/2)
	for i := 0; i+1 < len(images); i += 2 {
		pairs = append(pairs, Pair{Front: images[i], Back: images[i+1]})
	}
	return pairs
}

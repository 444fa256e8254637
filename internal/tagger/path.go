package tagger

import (
	"path/filepath"
	"strings"
)

// EnsureExt computes the target path with an optional infix and the
// wanted extension. A path already carrying the extension is kept; a
// different extension is demoted to an infix suffix:
//
//	EnsureExt("model.tar", "tar", "") == "model.tar"
//	EnsureExt("model", "tar", "") == "model.tar"
//	EnsureExt("model.test", "tar", "") == "model.test.tar"
//	EnsureExt("model.tar", "tar", "0.87") == "model-0.87.tar"
func EnsureExt(path, ext, infix string) string {
	oldExt := filepath.Ext(path)
	base := strings.TrimSuffix(path, oldExt)

	ext = strings.TrimPrefix(ext, ".")
	oldExt = strings.TrimPrefix(oldExt, ".")

	if infix != "" {
		base = base + "-" + infix
	}
	if oldExt != "" && oldExt != ext {
		base = base + "." + oldExt
	}
	return base + "." + ext
}

// SPDX-License-Identifier: MPL-2.0

package pathguard

import (
	"path"
	"slices"
	"strings"
)

// allowedUploadExts is the closed set of extensions accepted for upload.
var allowedUploadExts = map[string]struct{}{
	// archives
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".7z": {},
	// plugin bundles
	".jar": {},
	// configuration
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".properties": {},
	".cfg": {}, ".conf": {}, ".ini": {}, ".txt": {}, ".md": {}, ".xml": {},
}

// IsAllowedUpload reports whether filename carries an allowed extension.
// The comparison is case-insensitive; anything not on the list is rejected.
func IsAllowedUpload(filename string) bool {
	name := strings.ReplaceAll(filename, `\`, "/")
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	_, ok := allowedUploadExts[ext]
	return ok
}

// AllowedUploadExtensions returns the accepted extensions in sorted order.
func AllowedUploadExtensions() []string {
	exts := make([]string, 0, len(allowedUploadExts))
	for ext := range allowedUploadExts {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

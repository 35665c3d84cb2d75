package objectstore

import (
	"net/url"
	"strings"
)

// folderKey is the marker key of folder name under base, always ending in "/".
func folderKey(base, name string) string {
	key := sanitizePath(strings.Trim(name, "/\\"))
	if key == "" {
		return base
	}
	return base + key + "/"
}

func keyPrefix(sourceFileID string) string {
	return sanitizePath(sourceFileID) + "_"
}

// objectKey prefixes the file name with the source file id so a folder listing can find every
// upload of one source file without reading metadata.
func objectKey(folder, sourceFileID, name string) string {
	name = strings.NewReplacer("/", "-", "\\", "-").Replace(name)
	if sourceFileID == "" {
		return folder + sanitizePath(name)
	}
	return folder + keyPrefix(sourceFileID) + sanitizePath(name)
}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		// Decode first in case the segment is already encoded
		decoded, err := url.QueryUnescape(segment)
		if err == nil {
			segment = decoded
		}

		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "+", "plus")

		segments[i] = url.QueryEscape(segment)
	}

	sanitized := strings.Join(segments, "/")
	for strings.Contains(sanitized, "//") {
		sanitized = strings.ReplaceAll(sanitized, "//", "/")
	}

	return sanitized
}

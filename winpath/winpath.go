// Package winpath manipulates Windows-style paths independently of the
// host platform.
//
// Program paths arriving in attach requests come from the target machine
// and use backslash separators regardless of where the relay runs, so
// path/filepath (which follows the host's separator) cannot be used.
package winpath

import "strings"

// separators accepted in incoming paths. The target sends backslash
// paths, but forward slashes are tolerated for manually written configs.
const separators = `\/`

// Dir returns everything before the final path separator, without a
// trailing separator. A path with no separator yields "".
func Dir(path string) string {
	i := strings.LastIndexAny(path, separators)
	if i < 0 {
		return ""
	}
	// Preserve drive roots like `C:\`.
	if i > 0 && path[i-1] == ':' {
		return path[:i+1]
	}
	return path[:i]
}

// Base returns the final path element. A trailing separator yields "".
func Base(path string) string {
	i := strings.LastIndexAny(path, separators)
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// Stem returns the final path element with its extension removed.
// When the path ends in a separator the parent element is used instead,
// so `C:\proj\tool\` and `C:\proj\tool.py` both yield "tool".
func Stem(path string) string {
	name := Base(path)
	if name == "" {
		name = Base(Dir(path))
	}
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}

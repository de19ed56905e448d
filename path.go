package tarbgz

import "strings"

// SplitPath splits an archive path into its components.
//
// Components are separated by '/'. Empty components (from leading, trailing
// or repeated slashes) and "." components are ignored, so "/a//b/", "./a/b"
// and "a/b" all address the same member. ".." is kept as an ordinary
// component name.
func SplitPath(p string) []string {
	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// JoinPath joins components with '/'. An empty list yields ".", the path
// of the archive root.
func JoinPath(components []string) string {
	if len(components) == 0 {
		return "."
	}
	return strings.Join(components, "/")
}

// NormalizePath returns the canonical form of an archive path: the result
// of joining its SplitPath components.
//
//   - "/etc/nginx/" → "etc/nginx"
//   - "./etc//nginx" → "etc/nginx"
//   - "" and "/" → "."
func NormalizePath(p string) string {
	return JoinPath(SplitPath(p))
}

// Package workspace loads and validates the WORKSPACE.star file that pins
// external toolchain archives.
//
// The workspace file is Starlark. Two builtins are predeclared:
//
//	archive(name, commit, sha256, urls, strip_prefix="")
//	local_override(name, path)
//
// archive declares a pinned external archive identified by a commit and a
// SHA-256 content hash. local_override redirects a pin to a local checkout
// for development, bypassing the checksum-verified remote fetch. Overrides
// can also be supplied through FORGE_OVERRIDE_<NAME> environment variables,
// which take precedence over the workspace file.
package workspace

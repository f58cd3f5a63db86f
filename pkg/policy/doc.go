// Package policy evaluates admission rules for pinned archives.
//
// Rules are written in Rego and evaluated with OPA before an archive is
// fetched. Builtin policies cover transport security, checksum integrity,
// and host allowlisting; projects can layer their own .rego files on top.
// A violation at error severity blocks the fetch, warnings are reported
// but do not block.
package policy

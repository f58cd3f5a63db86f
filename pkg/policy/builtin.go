package policy

// BuiltinPolicies returns the admission rules that ship with the toolchain.
func BuiltinPolicies() []Policy {
	return []Policy{
		archiveTransportPolicy(),
		archiveIntegrityPolicy(),
		archiveHostsPolicy(),
		localOverridePolicy(),
	}
}

// archiveTransportPolicy rejects plaintext download URLs.
func archiveTransportPolicy() Policy {
	return Policy{
		Name:        "archive-transport",
		Description: "Archive URLs must use https",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package forge.policies.transport

import rego.v1

deny contains violation if {
	not input.pin.override
	some url in input.pin.urls
	not startswith(url, "https://")
	violation := {
		"message": sprintf("archive %s has non-https url: %s", [input.pin.name, url]),
		"severity": "error",
		"archive": input.pin.name,
	}
}
`,
	}
}

// archiveIntegrityPolicy requires a checksum on every remote pin and flags
// abbreviated commits.
func archiveIntegrityPolicy() Policy {
	return Policy{
		Name:        "archive-integrity",
		Description: "Remote archives must pin a sha256 checksum and a full commit",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package forge.policies.integrity

import rego.v1

deny contains violation if {
	not input.pin.override
	not input.pin.sha256
	violation := {
		"message": sprintf("archive %s has no sha256 checksum", [input.pin.name]),
		"severity": "error",
		"archive": input.pin.name,
	}
}

deny contains violation if {
	not input.pin.override
	count(input.pin.commit) < 40
	violation := {
		"message": sprintf("archive %s pins abbreviated commit %s", [input.pin.name, input.pin.commit]),
		"severity": "warning",
		"archive": input.pin.name,
	}
}
`,
	}
}

// archiveHostsPolicy enforces the configured host allowlist.
func archiveHostsPolicy() Policy {
	return Policy{
		Name:        "archive-hosts",
		Description: "Archive URLs must point at allowlisted hosts",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package forge.policies.hosts

import rego.v1

url_host(url) := host if {
	rest := split(url, "://")[1]
	host := split(split(rest, "/")[0], ":")[0]
}

deny contains violation if {
	not input.pin.override
	count(input.allowed_hosts) > 0
	some url in input.pin.urls
	host := url_host(url)
	not host in input.allowed_hosts
	violation := {
		"message": sprintf("archive %s fetches from disallowed host %s", [input.pin.name, host]),
		"severity": "error",
		"archive": input.pin.name,
	}
}
`,
	}
}

// localOverridePolicy surfaces active local overrides so they are not
// shipped by accident.
func localOverridePolicy() Policy {
	return Policy{
		Name:        "local-override",
		Description: "Warns when a pin resolves to a local override",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package forge.policies.override

import rego.v1

deny contains violation if {
	input.pin.override
	violation := {
		"message": sprintf("archive %s is overridden by local path %s", [input.pin.name, input.pin.override]),
		"severity": "warning",
		"archive": input.pin.name,
	}
}
`,
	}
}

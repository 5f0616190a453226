// Package config loads the repository topology from CUE and builds the
// repository handles it describes.
//
// # Topology
//
// A topology file declares the repositories, which one lifecycle operations
// use by default, and optional policy, rule, logic and publication settings:
//
//	repositories: [
//		{name: "local", kind: "local", path: "curator.db"},
//		{name: "registry", kind: "rest", url: "https://registry.example.org", timeout: "10s"},
//		{name: "mirror", kind: "proxy", inner: "registry",
//			rewrites: [{from: "http://example.org/", to: "https://registry.example.org/"}]},
//		{name: "all", kind: "federated", members: [
//			{name: "local", prefixes: ["http://example.org/Library/"]},
//			{name: "mirror"},
//		]},
//	]
//	default: "all"
//	policy: {version_behavior: "require-matching", experimental_behavior: "warn"}
//
// Files are unified with the built-in #Topology CUE schema, decoded,
// checked with validator struct tags, and finally checked for undeclared or
// cyclic repository references. Every problem is reported as a
// ValidationError with its file position where CUE knows it.
//
// # Building handles
//
// Build turns a Topology into repository handles. References are built
// first, local SQLite stores are opened and migrated, and every handle is
// wrapped in a repository.Facade for timeouts, logging and metrics.
package config

// Package core provides the identity and error model shared by every layer of
// the pipeline build system.
//
// # Core Types
//
// Partition: an immutable target/outgroup split of sequence IDs that scopes one
// workflow node.
// TaskID: the content hash that names one logical unit of work.
// ToolSpec: the declarative description of one external program (program,
// ordered argument templates, declared outputs, core requirement).
// Args: the ordered (flag, value) list a ToolSpec renders into.
//
// # Identity
//
// Every identifier in this package is a sha256 digest over length-prefixed
// fields. Set-valued inputs (sequence IDs, parent task IDs) are sorted first;
// argument lists are hashed in their declared order because program argument
// order is significant.
package core

// Package virt talks to the domain's QEMU monitor over QMP (QEMU Machine
// Protocol). The export orchestration core only needs a narrow slice of
// domain management: enumerate the block devices eligible for backup, and
// cancel an in-flight backup block job when a signal interrupts the
// surrounding run.
//
// Commands are assembled as raw JSON with sjson builders and responses are
// picked apart with gjson; both sides are logged at debug level so a backup
// logfile records the exact monitor traffic.
package virt

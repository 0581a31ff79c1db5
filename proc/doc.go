// Package proc spawns and supervises the external processes nbdexport
// orchestrates. It provides two execution modes: pipe mode, which runs a
// command synchronously and captures its stdout for query-style invocations
// (qemu-img info, nbdinfo), and fork/detach mode, which launches a
// self-forking server binary (qemu-nbd, nbdkit) and recovers its pid from a
// pid-file.
//
// A Handle describes a spawned process. It is created once at spawn time and
// is read-only afterwards; the component that spawned the process owns the
// handle until it explicitly disconnects or kills it.
package proc

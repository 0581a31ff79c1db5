// Package main provides the nbdexport command-line interface.
//
// nbdexport starts and supervises the NBD export server processes used to
// expose virtual machine disk images for backup and restore, locally or on a
// remote host over SSH. It handles flag parsing, logging setup, signal-driven
// cleanup wiring, and orchestration of the export lifecycle.
//
// Subcommands: backup (read-only export of a disk image), restore (writable
// export of a restore target), map (auxiliary nbdkit server exposing a
// pre-computed block map).
//
// For the export orchestration logic, see the qemu package.
package main

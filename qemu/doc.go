// Package qemu builds and launches the NBD export server processes used to
// expose virtual machine disk images for backup and restore.
//
// Command construction is split from process interaction: the *Cmd functions
// are pure and translate a typed export specification into the exact
// argument list of the underlying binary (qemu-nbd, qemu-img, nbdinfo,
// nbdkit). The Manager binds those argument lists to either the local
// executor or a caller-supplied remote executor and returns a uniform
// process handle for both cases.
//
// The argument vocabulary and ordering emitted by the builders is load
// bearing: downstream tooling replays recorded invocations, so optional
// flags are omitted entirely when their value is unset rather than emitted
// empty. The one exception is the backup bitmap flag, which degrades to the
// bare "--" end-of-options marker because qemu-nbd requires a terminator in
// that argument position.
package qemu

// Package overlay builds the in-memory magic-mount overlay tree.
//
// It merges the system/ subtree of every enabled module under the module
// root into a single tree rooted at "/", resolves partition-symlink
// compatibility, promotes builtin partitions, and attaches operator
// configured extra partitions. The tree produced here is consumed by
// package mountapply, which realises it against the live filesystem.
package overlay

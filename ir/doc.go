// Package ir defines the SSA intermediate representation consumed by the
// shaderopt passes.
//
// A Shader owns shader-scope variables and functions. Each Function holds a
// structured control-flow tree: an ordered list of nodes where a node is a
// basic Block, an If with two child lists, or a Loop with one body list.
// Lists always begin and end with a block and never contain two adjacent
// blocks. Blocks hold a doubly linked list of instructions.
//
// # Values
//
// Every instruction that produces a result defines exactly one SSA Value.
// A Value records its component count and bit width and keeps a use-list of
// the Src slots that read it, so rewrites such as ReplaceAllUses are
// constant time per use. Registers provide a small non-SSA namespace for
// passes that temporarily leave SSA form.
//
// # Instructions
//
//   - ALU: pure arithmetic with per-source swizzles and modifiers
//   - LoadConst and Undef: immediates
//   - Intrinsic: side effects and resource addressing, described by a data
//     table of opcode info and an indexed attribute array
//   - Tex: texture operations keyed by typed sources
//   - Deref: address computation rooted at a variable or a cast
//   - Phi and Jump: SSA merges and structured exits
//
// # Building
//
// Passes emit new code with a Builder bound to a function and a Cursor. The
// builder folds integer ALU operations on constant inputs, so clamps and
// offsets on constant indices collapse to immediates.
//
// # Metadata
//
// Block indices, dominance, live definitions and the loop tree are computed
// on demand by Function.Require. A pass declares what it preserved with
// Function.Preserve once it finishes.
//
// # Failures
//
// Malformed IR is a contract violation. Passes report it with Abortf, which
// panics with a *Violation naming the pass, function, block and instruction.
package ir

// Package expr provides the symbolic expression tree consumed by the
// operator compiler.
//
// Every node is immutable and carries an identity token (ID) assigned at
// construction. The compiler memoizes common subexpressions by that token,
// never by structural equality, so two independently built but identical
// subtrees are distinct unless the caller shares the node. Structural
// comparisons, where batching needs them, go through Key.
//
// This package imports nothing internal. It is the foundation for ir and
// compiler.
package expr

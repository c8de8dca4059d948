// Package storage provides the opaque blob store the commit processor
// writes into, plus write-verification helpers shared with the preview
// pipeline. The only implementation is a local disk store; the interface
// exists so the promotion path never depends on filesystem semantics.
package storage

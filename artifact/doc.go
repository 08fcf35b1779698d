// Package artifact implements the text operations behind the artifact tools.
//
// Artifacts live in core.State as a flat name -> text mapping; this package
// holds the pure helpers that page through an artifact with cat -n style
// line numbers and apply exact substring edits. Nothing here knows about
// tools, state ownership or merging.
package artifact

// Package diff holds constants shared by the edit/write tools and the
// chat UI's diff rendering, kept separate so neither side needs to import
// the other's package.
package diff

// MaxDiffSize bounds how large a before/after pair we'll keep around for
// diff rendering, to avoid allocating huge buffers for pasted-in files.
const MaxDiffSize = 1 << 20 // 1 MiB

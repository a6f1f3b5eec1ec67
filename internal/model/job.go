package model

// Job is a single artifact handed to the external processor. SourcePath is the
// materialized intermediate file inside a scratch directory, OutputPath is the
// destination directory the processor writes into.
type Job struct {
	SourcePath string
	OutputPath string
}

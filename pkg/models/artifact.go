package models

// ArtifactFormat is the on-disk content format of a materialized artifact.
type ArtifactFormat string

const (
	FormatParquet ArtifactFormat = "parquet"
	FormatCSV     ArtifactFormat = "csv"
	FormatIPC     ArtifactFormat = "ipc"
)

// Artifact is a reference to a materialized dataframe. Artifacts are
// content-addressed: the same Hash is reusable across flows.
type Artifact struct {
	Hash     string         `json:"hash"`
	Path     string         `json:"path"`
	Format   ArtifactFormat `json:"format"`
	Schema   Schema         `json:"schema"`
	RowCount int64          `json:"row_count"`
}

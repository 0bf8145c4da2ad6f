package workerrun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// Progress is reported periodically while a plan executes.
type Progress struct {
	Rows  int64
	Bytes int64
	Phase string
}

// Result is what a completed plan produces: the materialized artifact
// under artifactDir. For writer nodes it is a copy of the table they
// wrote; an output node's copy uses the output's own format.
type Result struct {
	Hash     string
	Path     string
	Format   models.ArtifactFormat
	Schema   models.Schema
	RowCount int64
}

// Execute runs one plan to completion, loading its declared inputs from
// their artifact paths and writing its result under artifactDir. report,
// when non-nil, is called at most once per operation with the final row
// count; node kinds with nothing better to report progress on (most of
// them materialize in one pass) call it exactly once just before
// returning.
func Execute(ctx context.Context, plan *registry.Plan, artifactDir string, report func(Progress)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs, err := loadInputs(plan.Inputs)
	if err != nil {
		return nil, err
	}

	var out *Table
	var writeFormat models.ArtifactFormat

	switch plan.Kind {
	case "manual_input":
		out, err = opManualInput(plan.Settings)
	case "read_csv", "read_json", "read_excel", "read_parquet":
		out, err = opFileReader(plan.Kind, plan.Settings)
	case "cloud_storage_reader":
		out, err = opCloudStorageReader(ctx, plan.Settings)
	case "database_reader":
		out, err = opDatabaseReader(plan.Settings)
	case "select":
		out, err = opSelect(requireOne(inputs), plan.Settings)
	case "filter":
		out, err = opFilter(requireOne(inputs), plan.Settings)
	case "record_id":
		out, err = opRecordID(requireOne(inputs), plan.Settings)
	case "formula":
		out, err = opFormula(requireOne(inputs), plan.Settings)
	case "head":
		out, err = opHead(requireOne(inputs), plan.Settings)
	case "sample":
		out, err = opSample(requireOne(inputs), plan.Settings, rand.New(rand.NewSource(plan.NodeID)))
	case "sort":
		out, err = opSort(requireOne(inputs), plan.Settings)
	case "unique":
		out, err = opUnique(requireOne(inputs), plan.Settings)
	case "join":
		if len(inputs) != 2 {
			return nil, fmt.Errorf("join: expected 2 inputs, got %d", len(inputs))
		}
		out, err = opJoin(inputs[0], inputs[1], plan.Settings)
	case "cross_join":
		if len(inputs) != 2 {
			return nil, fmt.Errorf("cross_join: expected 2 inputs, got %d", len(inputs))
		}
		out, err = opCrossJoin(inputs[0], inputs[1])
	case "union":
		out, err = opUnion(inputs, plan.Settings)
	case "group_by":
		out, err = opGroupBy(requireOne(inputs), plan.Settings)
	case "pivot":
		out, err = opPivot(requireOne(inputs), plan.Settings)
	case "unpivot":
		out, err = opUnpivot(requireOne(inputs), plan.Settings)
	case "polars_code":
		out, err = opPolarsCode(inputs, plan.Settings)
	case "output":
		format, werr := opOutput(requireOne(inputs), plan.Settings)
		if werr != nil {
			return nil, werr
		}
		writeFormat = format
		out = inputs[0]
	case "cloud_storage_writer":
		if werr := opCloudStorageWriter(ctx, requireOne(inputs), plan.Settings); werr != nil {
			return nil, werr
		}
		out = inputs[0]
	case "database_writer":
		if werr := opDatabaseWriter(requireOne(inputs), plan.Settings); werr != nil {
			return nil, werr
		}
		out = inputs[0]
	default:
		return nil, fmt.Errorf("unsupported node kind %q", plan.Kind)
	}
	if err != nil {
		return nil, err
	}

	if report != nil {
		report(Progress{Rows: int64(len(out.Rows)), Bytes: out.MemoryBytes(), Phase: "materializing"})
	}

	format := plan.Options.OutputFormat
	if format == "" {
		format = models.FormatIPC
	}
	if writeFormat != "" {
		format = writeFormat
	}

	hash := contentHash(plan, out)
	// The data file name carries no format suffix: the artifact cache (C5)
	// tracks format in its own sidecar metadata, keyed purely by hash, so
	// the worker and the cache must agree on this exact layout.
	path := filepath.Join(artifactDir, hash[:2], hash+".data")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if err := materialize(path, format, out); err != nil {
		return nil, err
	}

	return &Result{Hash: hash, Path: path, Format: format, Schema: out.Schema, RowCount: int64(len(out.Rows))}, nil
}

func requireOne(tables []*Table) *Table {
	if len(tables) == 0 {
		return NewTable(models.Schema{})
	}
	return tables[0]
}

func loadInputs(inputs []registry.PlanInput) ([]*Table, error) {
	tables := make([]*Table, len(inputs))
	for i, in := range inputs {
		if in.Artifact == nil {
			tables[i] = NewTable(models.Schema{})
			continue
		}
		t, err := loadArtifact(in.Artifact)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Port, err)
		}
		tables[i] = t
	}
	return tables, nil
}

func loadArtifact(a *models.Artifact) (*Table, error) {
	switch a.Format {
	case models.FormatIPC:
		return readIPC(a.Path, a.Schema)
	case models.FormatParquet:
		return readParquet(a.Path, a.Schema)
	case models.FormatCSV:
		cols := make([]columnSpec, len(a.Schema.Columns))
		for i, c := range a.Schema.Columns {
			cols[i] = columnSpec{Name: c.Name, Type: c.Type}
		}
		return readCSV(a.Path, cols, 0, 0)
	}
	return nil, fmt.Errorf("unsupported artifact format %q", a.Format)
}

func materialize(path string, format models.ArtifactFormat, t *Table) error {
	switch format {
	case models.FormatIPC:
		return writeIPC(path, t)
	case models.FormatParquet:
		return writeParquet(path, t)
	case models.FormatCSV:
		return writeCSV(path, t)
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// contentHash derives the artifact hash from the node's kind, settings,
// the hashes of its resolved inputs and the output row count, so
// identical upstream data plus identical settings always produce the
// same artifact reference.
func contentHash(plan *registry.Plan, out *Table) string {
	h := sha256.New()
	h.Write([]byte(plan.Kind))
	h.Write(plan.Settings)
	for _, in := range plan.Inputs {
		if in.Artifact != nil {
			h.Write([]byte(in.Artifact.Hash))
		}
	}
	fmt.Fprintf(h, "%d", len(out.Rows))
	return hex.EncodeToString(h.Sum(nil))
}

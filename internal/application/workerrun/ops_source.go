package workerrun

import (
	"context"
	"fmt"
	"os"

	"github.com/smilemakc/mbflow/pkg/models"
)

type manualInputSettings struct {
	Columns []columnSpec     `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func opManualInput(raw []byte) (*Table, error) {
	var set manualInputSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	return readManualInput(set.Columns, set.Rows)
}

type fileReaderSettings struct {
	Path      string       `json:"path"`
	Columns   []columnSpec `json:"columns"`
	Delimiter string       `json:"delimiter,omitempty"`
	Encoding  string       `json:"encoding,omitempty"`
	SkipLines int          `json:"skip_lines,omitempty"`
	Sheet     string       `json:"sheet,omitempty"`
	JSONPath  string       `json:"json_path,omitempty"`
}

// opFileReader dispatches read_csv/read_parquet/read_json/read_excel
// against the file format each kind names; the encoding setting is not
// used and every file is read as UTF-8.
func opFileReader(kind string, raw []byte) (*Table, error) {
	var set fileReaderSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	switch kind {
	case "read_csv":
		delim := rune(0)
		if set.Delimiter != "" {
			delim = []rune(set.Delimiter)[0]
		}
		return readCSV(set.Path, set.Columns, delim, set.SkipLines)
	case "read_json":
		return readJSON(set.Path, set.Columns, set.JSONPath)
	case "read_excel":
		return readExcel(set.Path, set.Sheet, set.Columns)
	case "read_parquet":
		return readParquet(set.Path, specSchema(set.Columns))
	}
	return nil, fmt.Errorf("unsupported file reader kind %q", kind)
}

type cloudStorageSettings struct {
	URI           string       `json:"uri"`
	ConnectionRef string       `json:"connection_ref"`
	Format        string       `json:"format"`
	Columns       []columnSpec `json:"columns,omitempty"`
}

// opCloudStorageReader downloads the remote object to local disk and hands
// it to the matching format-specific reader, since the worker's format
// readers are all local-file based.
func opCloudStorageReader(ctx context.Context, raw []byte) (*Table, error) {
	var set cloudStorageSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	if _, err := resolveConnection(set.ConnectionRef); err != nil {
		return nil, err
	}
	local, err := downloadToTemp(ctx, set.URI)
	if err != nil {
		return nil, err
	}
	defer os.Remove(local)

	switch set.Format {
	case "csv":
		return readCSV(local, set.Columns, 0, 0)
	case "json":
		return readJSON(local, set.Columns, "")
	case "parquet":
		return readParquet(local, specSchema(set.Columns))
	}
	return nil, fmt.Errorf("cloud_storage_reader: unsupported format %q", set.Format)
}

// opCloudStorageWriter serializes the table locally in the requested
// format, then uploads the result.
func opCloudStorageWriter(ctx context.Context, t *Table, raw []byte) error {
	var set cloudStorageSettings
	if err := decodeJSON(raw, &set); err != nil {
		return err
	}
	if _, err := resolveConnection(set.ConnectionRef); err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "flowfile-cloud-out-*")
	if err != nil {
		return fmt.Errorf("cloud_storage_writer: %w", err)
	}
	localPath := tmp.Name()
	tmp.Close()
	defer os.Remove(localPath)

	switch set.Format {
	case "csv":
		err = writeCSV(localPath, t)
	case "parquet":
		err = writeParquet(localPath, t)
	default:
		return fmt.Errorf("cloud_storage_writer: unsupported format %q", set.Format)
	}
	if err != nil {
		return err
	}
	return uploadFromLocal(ctx, set.URI, localPath)
}

type databaseSettings struct {
	ConnectionRef string       `json:"connection_ref"`
	Query         string       `json:"query,omitempty"`
	Schema        string       `json:"schema,omitempty"`
	Table         string       `json:"table,omitempty"`
	Columns       []columnSpec `json:"columns,omitempty"`
	Mode          string       `json:"mode,omitempty"`
}

func opDatabaseReader(raw []byte) (*Table, error) {
	var set databaseSettings
	if err := decodeJSON(raw, &set); err != nil {
		return nil, err
	}
	dsn, err := resolveConnection(set.ConnectionRef)
	if err != nil {
		return nil, err
	}
	return readDatabase(dsn, set.Query, set.Schema, set.Table, set.Columns)
}

func opDatabaseWriter(t *Table, raw []byte) error {
	var set databaseSettings
	if err := decodeJSON(raw, &set); err != nil {
		return err
	}
	dsn, err := resolveConnection(set.ConnectionRef)
	if err != nil {
		return err
	}
	mode := set.Mode
	if mode == "" {
		mode = "append"
	}
	return writeDatabase(dsn, set.Schema, set.Table, mode, t)
}

type outputSettings struct {
	Path             string                `json:"path"`
	Format           models.ArtifactFormat `json:"format"`
	Mode             string                `json:"mode"`
	OnSchemaMismatch string                `json:"on_schema_mismatch,omitempty"`
}

// opOutput writes a table to set.Path in the requested artifact format,
// creating or truncating the file. Mode and OnSchemaMismatch are not read,
// so every write replaces the file. The cached artifact is written
// separately by Execute.
func opOutput(t *Table, raw []byte) (models.ArtifactFormat, error) {
	var set outputSettings
	if err := decodeJSON(raw, &set); err != nil {
		return "", err
	}
	switch set.Format {
	case models.FormatCSV:
		return set.Format, writeCSV(set.Path, t)
	case models.FormatParquet:
		return set.Format, writeParquet(set.Path, t)
	case models.FormatIPC:
		return set.Format, writeIPC(set.Path, t)
	}
	return "", fmt.Errorf("output: unsupported format %q", set.Format)
}

// Package store archives self-play experience as Parquet files and
// summarizes archives with DuckDB.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const schemaName = "snake_step_v1"

// StepRow is one environment transition.
//
// Action is 0=Up, 1=Down, 2=Left, 3=Right. Board holds the grid after the
// step, row-major, one CellKind byte per cell.
type StepRow struct {
	EpisodeID  string  `parquet:"episode_id,dict"`
	Policy     string  `parquet:"policy,dict"`
	Seed       int64   `parquet:"seed"`
	Step       int32   `parquet:"step"`
	Width      int32   `parquet:"width"`
	Height     int32   `parquet:"height"`
	Action     int32   `parquet:"action"`
	Accepted   bool    `parquet:"accepted"`
	Reward     float32 `parquet:"reward"`
	Score      int32   `parquet:"score"`
	FrameIndex int32   `parquet:"frame_index"`
	State      string  `parquet:"state,dict"`
	Length     int32   `parquet:"length"`
	Board      []byte  `parquet:"board"`
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("board"),
		parquet.KeyValueMetadata("schema", schemaName),
	}
}

func batchName() string {
	return fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then renames the
// file into outDir, so readers never see a partial file.
func WriteBatchParquetAtomic(outDir string, rows []StepRow) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := batchName()
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadStepRows loads every row of one archive file.
func ReadStepRows(path string) ([]StepRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[StepRow](pf)
	defer reader.Close()

	rows := make([]StepRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows[:n], nil
}

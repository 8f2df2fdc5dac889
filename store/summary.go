package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// PolicySummary aggregates finished and truncated episodes for one policy.
// Peak score is the highest score an episode reached before it ended.
type PolicySummary struct {
	Policy       string  `json:"policy"`
	Episodes     int64   `json:"episodes"`
	Wins         int64   `json:"wins"`
	Losses       int64   `json:"losses"`
	Truncated    int64   `json:"truncated"`
	AvgSteps     float64 `json:"avg_steps"`
	AvgPeakScore float64 `json:"avg_peak_score"`
	MaxPeakScore int64   `json:"max_peak_score"`
}

const summaryQuery = `
WITH episodes AS (
	SELECT
		policy,
		episode_id,
		count(*) AS steps,
		max(score) AS peak,
		arg_max(state, step) AS final_state
	FROM steps
	GROUP BY policy, episode_id
)
SELECT
	policy,
	count(*) AS episodes,
	count(*) FILTER (WHERE final_state = 'win') AS wins,
	count(*) FILTER (WHERE final_state = 'lose') AS losses,
	count(*) FILTER (WHERE final_state = 'running') AS truncated,
	avg(steps) AS avg_steps,
	avg(peak) AS avg_peak,
	max(peak) AS max_peak
FROM episodes
GROUP BY policy
ORDER BY policy`

// Summarize reads every published batch under dir. Files still in tmp/ are
// ignored. An archive with no batches yields no summaries.
func Summarize(ctx context.Context, dir string) ([]PolicySummary, error) {
	files, err := listBatches(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	db, err := openArchive(ctx, files)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, summaryQuery)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []PolicySummary
	for rows.Next() {
		var s PolicySummary
		if err := rows.Scan(&s.Policy, &s.Episodes, &s.Wins, &s.Losses, &s.Truncated, &s.AvgSteps, &s.AvgPeakScore, &s.MaxPeakScore); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	return out, nil
}

func openArchive(ctx context.Context, files []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + escapeSQLString(f) + "'"
	}
	view := `CREATE OR REPLACE VIEW steps AS
		SELECT * FROM read_parquet([` + strings.Join(quoted, ",") + `], union_by_name=true)`
	if _, err := db.ExecContext(ctx, view); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create steps view: %w", err)
	}
	return db, nil
}

// listBatches finds published batches under dir, skipping tmp/ directories.
func listBatches(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan archive %s: %w", dir, err)
	}
	return files, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Package archive stores finalized sessions in a local SQLite database for
// history queries and offline analysis. The archive is write-once per
// session; live telemetry never touches it.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	started_at       TEXT NOT NULL,
	ended_at         TEXT NOT NULL,
	duration_s       REAL NOT NULL,
	distance_m       REAL NOT NULL,
	elevation_gain_m REAL NOT NULL,
	elevation_loss_m REAL NOT NULL,
	avg_speed_ms     REAL NOT NULL,
	step_count       INTEGER NOT NULL,
	accepted_fixes   INTEGER NOT NULL,
	rejected_fixes   INTEGER NOT NULL,
	mechanical_kcal  REAL NOT NULL,
	heart_rate_kcal  REAL NOT NULL,
	fused_kcal       REAL NOT NULL,
	hr_coverage      REAL NOT NULL,
	splits_json      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// Record is one archived session row.
type Record struct {
	SessionID      string              `json:"session_id"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        time.Time           `json:"ended_at"`
	Duration       time.Duration       `json:"duration"`
	DistanceM      float64             `json:"distance_m"`
	ElevationGainM float64             `json:"elevation_gain_m"`
	ElevationLossM float64             `json:"elevation_loss_m"`
	AvgSpeedMS     float64             `json:"avg_speed_ms"`
	StepCount      int                 `json:"step_count"`
	AcceptedFixes  int                 `json:"accepted_fixes"`
	RejectedFixes  int                 `json:"rejected_fixes"`
	Calories       pkg.CalorieEstimate `json:"calories"`
	Splits         []time.Duration     `json:"splits"`
}

// Archive is the session history database.
type Archive struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens or creates the archive at path.
func Open(path string, logger *logx.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db, logger: logger}, nil
}

// Insert writes one finalized session. Inserting the same session twice
// replaces the earlier row.
func (a *Archive) Insert(meta pkg.SessionMeta, snap pkg.TrackSnapshot, est pkg.CalorieEstimate) error {
	splits, err := json.Marshal(snap.SplitDurations)
	if err != nil {
		return fmt.Errorf("encode splits: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO sessions (
			session_id, started_at, ended_at, duration_s,
			distance_m, elevation_gain_m, elevation_loss_m, avg_speed_ms,
			step_count, accepted_fixes, rejected_fixes,
			mechanical_kcal, heart_rate_kcal, fused_kcal, hr_coverage,
			splits_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.SessionID,
		snap.StartedAt.UTC().Format(time.RFC3339Nano),
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
		snap.Elapsed().Seconds(),
		snap.DistanceM,
		snap.ElevationGainM,
		snap.ElevationLossM,
		snap.AvgSpeedMS,
		snap.StepCount,
		snap.AcceptedFixes,
		snap.RejectedFixes,
		est.MechanicalKcal,
		est.HeartRateKcal,
		est.FusedKcal,
		est.HRCoverage,
		string(splits),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", meta.SessionID, err)
	}

	a.logger.Info("session archived",
		"session_id", meta.SessionID,
		"distance_m", snap.DistanceM,
		"fused_kcal", est.FusedKcal,
	)
	return nil
}

// Recent returns up to limit sessions, newest first.
func (a *Archive) Recent(limit int) ([]Record, error) {
	rows, err := a.db.Query(`
		SELECT session_id, started_at, ended_at, duration_s,
			distance_m, elevation_gain_m, elevation_loss_m, avg_speed_ms,
			step_count, accepted_fixes, rejected_fixes,
			mechanical_kcal, heart_rate_kcal, fused_kcal, hr_coverage,
			splits_json
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var startedAt, endedAt, splitsJSON string
		var durationS float64
		err := rows.Scan(
			&r.SessionID, &startedAt, &endedAt, &durationS,
			&r.DistanceM, &r.ElevationGainM, &r.ElevationLossM, &r.AvgSpeedMS,
			&r.StepCount, &r.AcceptedFixes, &r.RejectedFixes,
			&r.Calories.MechanicalKcal, &r.Calories.HeartRateKcal,
			&r.Calories.FusedKcal, &r.Calories.HRCoverage,
			&splitsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		r.Duration = time.Duration(durationS * float64(time.Second))
		if err := json.Unmarshal([]byte(splitsJSON), &r.Splits); err != nil {
			return nil, fmt.Errorf("decode splits: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

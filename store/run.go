package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one training run.
type Run struct {
	ID        string          `json:"id"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// Metric is one recorded scalar.
type Metric struct {
	RunID string  `json:"run_id"`
	Step  int     `json:"step"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RunRepository records training runs and their metrics.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Start creates a run with a fresh ID. config is stored as JSON.
func (r *RunRepository) Start(config any) (*Run, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}
	run := &Run{
		ID:        uuid.New().String(),
		Config:    data,
		CreatedAt: time.Now(),
	}
	_, err = r.db.Exec(`INSERT INTO runs (id, config, created_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Config), run.CreatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Get retrieves a run by its ID.
func (r *RunRepository) Get(id string) (*Run, error) {
	run := &Run{}
	var config string
	err := r.db.QueryRow(`SELECT id, config, created_at FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &config, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.Config = json.RawMessage(config)
	return run, nil
}

// Metrics returns the values recorded under name for a run, in step order.
// An empty name returns every metric.
func (r *RunRepository) Metrics(runID, name string) ([]Metric, error) {
	query := `SELECT run_id, step, name, value FROM metrics WHERE run_id = ?`
	args := []any{runID}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY step, id`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.RunID, &m.Step, &m.Name, &m.Value); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Sink returns a metrics sink writing to run id.
func (r *RunRepository) Sink(runID string) *RunSink {
	return &RunSink{db: r.db, runID: runID}
}

// RunSink writes training metrics of one run to the store.
type RunSink struct {
	db    *sql.DB
	runID string
}

// RunID returns the run the sink writes to.
func (s *RunSink) RunID() string { return s.runID }

// Record stores one value.
func (s *RunSink) Record(step int, name string, value float64) error {
	_, err := s.db.Exec(`INSERT INTO metrics (run_id, step, name, value) VALUES (?, ?, ?, ?)`,
		s.runID, step, name, value)
	if err != nil {
		return fmt.Errorf("record %s at step %d: %w", name, step, err)
	}
	return nil
}

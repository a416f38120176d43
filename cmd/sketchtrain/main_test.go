package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/sketchrnn/simple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleFeatures = [][]float32{{0.5, -0.5, 1, 1, 0.2, 0.5, 3, 4}}

func TestLoadOrNewModel_Resume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	cfg := simple.Config{HiddenSizes: []int{8}, NumClasses: 3, Seed: 7}

	saved, err := simple.NewModel(cfg)
	require.NoError(t, err)
	require.NoError(t, saveModel(path, saved))

	// A different seed gives different initial weights, so a match below
	// means the checkpoint was used.
	resumeCfg := cfg
	resumeCfg.Seed = 99
	m, resumed, err := loadOrNewModel(path, true, resumeCfg)
	require.NoError(t, err)
	assert.True(t, resumed)

	want, err := saved.PredictBatch(sampleFeatures)
	require.NoError(t, err)
	got, err := m.PredictBatch(sampleFeatures)
	require.NoError(t, err)
	assert.Equal(t, want, got, "restored weights differ from the checkpoint")
	assert.Equal(t, saved.Config, m.Config)

	fresh, resumed, err := loadOrNewModel(path, false, resumeCfg)
	require.NoError(t, err)
	assert.False(t, resumed, "checkpoint must be ignored without resume")
	other, err := fresh.PredictBatch(sampleFeatures)
	require.NoError(t, err)
	assert.NotEqual(t, want, other)
}

func TestLoadOrNewModel_MissingCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	m, resumed, err := loadOrNewModel(path, true, simple.Config{NumClasses: 2, Seed: 1})
	require.NoError(t, err)
	assert.False(t, resumed)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Config.NumClasses)
}

func TestLoadOrNewModel_BadCheckpoint(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.gob")
	require.NoError(t, os.WriteFile(garbage, []byte("not a model"), 0644))
	_, _, err := loadOrNewModel(garbage, true, simple.Config{NumClasses: 2, Seed: 1})
	assert.Error(t, err)

	path := filepath.Join(dir, "model.gob")
	m, err := simple.NewModel(simple.Config{NumClasses: 2, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, saveModel(path, m))
	_, _, err = loadOrNewModel(path, true, simple.Config{NumClasses: 4, Seed: 1})
	assert.Error(t, err, "class count mismatch")
}

func TestLoadConfig_Resume(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Resume)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"resume": true, "log_root": "runs/a"}`), 0644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Resume)
	assert.Equal(t, "runs/a", cfg.LogRoot)
	assert.Equal(t, 100, cfg.Hparams.BatchSize, "unnamed keys keep their defaults")
}

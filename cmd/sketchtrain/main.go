package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Noofbiz/sketchrnn/datasets"
	"github.com/Noofbiz/sketchrnn/simple"
	"github.com/Noofbiz/sketchrnn/store"
	"github.com/Noofbiz/sketchrnn/train"
)

// defaultConfigJSON is used when no -config file is given. Explicitly set
// CLI flags always override values from the JSON.
const defaultConfigJSON = `{
  "data": {
    "data_dir": "data",
    "datasets": [],
    "db": "",
    "import": false,
    "limit": 1000,
    "scale_factor": 0,
    "inference_mode": false
  },
  "hparams": {
    "batch_size": 100,
    "max_seq_len": 250,
    "random_scale_factor": 0.15,
    "augment_stroke_prob": 0.10,
    "is_training": true
  },
  "training": {
    "num_steps": 10000,
    "save_every": 500,
    "log_every": 20,
    "learning_rate": 0.001,
    "min_learning_rate": 0.00001,
    "decay_rate": 0.9999
  },
  "model": {
    "hidden_sizes": [32],
    "clip_norm": 5
  },
  "log_root": "output",
  "resume": false,
  "seed": 0
}`

// Config is the effective (JSON+CLI merged) configuration.
type Config struct {
	Data struct {
		DataDir       string   `json:"data_dir"`
		Datasets      []string `json:"datasets"`
		DB            string   `json:"db"`
		Import        bool     `json:"import"`
		Limit         float64  `json:"limit"`
		ScaleFactor   float64  `json:"scale_factor"`
		InferenceMode bool     `json:"inference_mode"`
	} `json:"data"`
	Hparams  datasets.Hparams `json:"hparams"`
	Training train.Config     `json:"training"`
	Model    struct {
		HiddenSizes []int   `json:"hidden_sizes"`
		ClipNorm    float32 `json:"clip_norm"`
	} `json:"model"`
	LogRoot string `json:"log_root"`
	Resume  bool   `json:"resume"`
	Seed    int64  `json:"seed"`
}

func loadConfig(path string) (*Config, error) {
	data := []byte(defaultConfigJSON)
	if strings.TrimSpace(path) != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	// Start from the defaults so a partial file only overrides what it names.
	if err := json.Unmarshal([]byte(defaultConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file (optional, defaults are embedded)")
	dataDir := flag.String("data-dir", "data", "directory holding the dataset files")
	datasetNames := flag.String("datasets", "", "comma-separated dataset names (files in -data-dir or datasets in -db); empty = every file in -data-dir")
	dbPath := flag.String("db", "", "optional SQLite database for stored datasets and run metrics")
	importFlag := flag.Bool("import", false, "import the named dataset files into -db before training")
	logRoot := flag.String("log-root", "output", "directory for model_config.json and checkpoints")
	resume := flag.Bool("resume", false, "continue from <log-root>/model.gob when it exists")
	seed := flag.Int64("seed", 0, "random seed (0 = time based)")
	numSteps := flag.Int("num-steps", 10000, "number of training steps")
	saveEvery := flag.Int("save-every", 500, "validation interval in steps")
	batchSize := flag.Int("batch-size", 100, "training batch size")
	learningRate := flag.Float64("learning-rate", 0.001, "initial learning rate")
	scaleFactor := flag.Float64("scale-factor", 0, "normalizing scale factor (0 = compute from the training split)")
	inference := flag.Bool("inference", false, "evaluate one sketch at a time")
	printEffectiveConfig := flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Only flags the user actually set override the JSON.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.Data.DataDir = *dataDir
		case "datasets":
			cfg.Data.Datasets = splitNames(*datasetNames)
		case "db":
			cfg.Data.DB = *dbPath
		case "import":
			cfg.Data.Import = *importFlag
		case "log-root":
			cfg.LogRoot = *logRoot
		case "resume":
			cfg.Resume = *resume
		case "seed":
			cfg.Seed = *seed
		case "num-steps":
			cfg.Training.NumSteps = *numSteps
		case "save-every":
			cfg.Training.SaveEvery = *saveEvery
		case "batch-size":
			cfg.Hparams.BatchSize = *batchSize
		case "learning-rate":
			cfg.Training.LearningRate = *learningRate
		case "scale-factor":
			cfg.Data.ScaleFactor = *scaleFactor
		case "inference":
			cfg.Data.InferenceMode = *inference
		}
	})
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	if *printEffectiveConfig {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatalf("failed to encode effective config: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var db *store.Store
	if cfg.Data.DB != "" {
		db, err = store.New(cfg.Data.DB)
		if err != nil {
			log.Fatalf("failed to open store %s: %v", cfg.Data.DB, err)
		}
		defer db.Close()
		log.Printf("Using store %s", cfg.Data.DB)
	}

	names := cfg.Data.Datasets
	if len(names) == 0 {
		names, err = datasets.FindSourcesIn(cfg.Data.DataDir)
		if err != nil {
			log.Fatalf("failed to find datasets: %v", err)
		}
	}
	log.Printf("Using datasets %v", names)

	sources, err := resolveSources(ctx, db, cfg.Data.DataDir, names, cfg.Data.Import)
	if err != nil {
		log.Fatalf("failed to resolve datasets: %v", err)
	}

	splits, err := datasets.LoadDataset(ctx, sources, cfg.Hparams, datasets.LoadOptions{
		InferenceMode: cfg.Data.InferenceMode,
		ScaleFactor:   cfg.Data.ScaleFactor,
		Limit:         cfg.Data.Limit,
		Seed:          cfg.Seed,
	})
	if err != nil {
		log.Fatalf("failed to load datasets: %v", err)
	}
	cfg.Hparams = splits.Hparams
	cfg.Data.ScaleFactor = splits.ScaleFactor

	if err := os.MkdirAll(cfg.LogRoot, 0755); err != nil {
		log.Fatalf("failed to create log root %s: %v", cfg.LogRoot, err)
	}
	if err := writeModelConfig(filepath.Join(cfg.LogRoot, "model_config.json"), cfg, splits); err != nil {
		log.Fatalf("failed to write model config: %v", err)
	}

	checkpointPath := filepath.Join(cfg.LogRoot, "model.gob")
	model, resumed, err := loadOrNewModel(checkpointPath, cfg.Resume, simple.Config{
		HiddenSizes: cfg.Model.HiddenSizes,
		NumClasses:  max(2, len(sources)),
		Seed:        cfg.Seed,
		ClipNorm:    cfg.Model.ClipNorm,
	})
	if err != nil {
		log.Fatalf("failed to create model: %v", err)
	}
	if resumed {
		log.Printf("Resumed model from %s", checkpointPath)
	}

	hist := train.NewHistory()
	sink := train.MetricsSink(hist)
	if db != nil {
		run, err := db.Runs().Start(cfg)
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		log.Printf("Recording run %s", run.ID)
		sink = train.Tee(hist, db.Runs().Sink(run.ID))
	}

	trainer := &train.Trainer{
		Model:  model,
		Config: cfg.Training,
		Train:  splits.Train,
		Valid:  splits.Valid,
		Test:   splits.Test,
		Sink:   sink,
		Checkpoint: train.CheckpointFunc(func(step int) error {
			log.Printf("saving model to %s (step %d)", checkpointPath, step)
			return saveModel(checkpointPath, model)
		}),
	}

	sum, err := trainer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("training failed: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		log.Printf("training interrupted after %d steps", sum.Steps)
	}

	if s, ok := hist.Summarize(train.MetricTrainCost); ok {
		log.Printf("train_cost: n=%d min=%.4f max=%.4f mean=%.4f", s.Count, s.Min, s.Max, s.Mean)
	}
	if sum.Test != nil {
		log.Printf("best_valid_cost %.4f at step %d, test cost %.4f, accuracy %.2f%%",
			sum.BestValidCost, sum.BestStep, sum.Test.Cost, sum.Test.Accuracy)
	} else {
		log.Printf("no validation pass completed in %d steps", sum.Steps)
	}
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveSources prefers datasets stored in db and falls back to files in
// dataDir. With importFiles, file datasets are copied into db first.
func resolveSources(ctx context.Context, db *store.Store, dataDir string, names []string, importFiles bool) ([]datasets.Source, error) {
	sources := make([]datasets.Source, 0, len(names))
	for _, name := range names {
		if db != nil {
			if _, err := db.Sketches().Get(name); err == nil && !importFiles {
				sources = append(sources, db.Source(name))
				continue
			} else if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
		src, err := datasets.Resolve(dataDir, name)
		if err != nil {
			return nil, err
		}
		if db != nil && importFiles {
			raw, err := src.Load(ctx)
			if err != nil {
				return nil, fmt.Errorf("import %s: %w", name, err)
			}
			if err := db.Sketches().Import(name, raw); err != nil {
				return nil, fmt.Errorf("import %s: %w", name, err)
			}
			log.Printf("Imported %s into the store", name)
			src = db.Source(name)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// writeModelConfig dumps the effective hyper-parameters next to the
// checkpoints.
func writeModelConfig(path string, cfg *Config, splits *datasets.Splits) error {
	out := struct {
		*Config
		EvalHparams   datasets.Hparams `json:"eval_hparams"`
		SampleHparams datasets.Hparams `json:"sample_hparams"`
		Classes       []string         `json:"classes"`
	}{cfg, splits.EvalHparams, splits.SampleHparams, splits.Names}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// loadOrNewModel restores the checkpoint at path when resume is set and the
// file exists. Otherwise it builds a fresh model from cfg. A restored model
// must have cfg.NumClasses outputs.
func loadOrNewModel(path string, resume bool, cfg simple.Config) (*simple.Model, bool, error) {
	if resume {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			m, err := simple.Load(f)
			if err != nil {
				return nil, false, fmt.Errorf("resume from %s: %w", path, err)
			}
			if m.Config.NumClasses != cfg.NumClasses {
				return nil, false, fmt.Errorf("resume from %s: checkpoint has %d classes, datasets give %d",
					path, m.Config.NumClasses, cfg.NumClasses)
			}
			return m, true, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, false, fmt.Errorf("resume from %s: %w", path, err)
		}
		log.Printf("No checkpoint at %s, starting a new model", path)
	}
	m, err := simple.NewModel(cfg)
	return m, false, err
}

// saveModel writes the model through a temp file and renames it into place.
func saveModel(path string, m *simple.Model) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := m.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

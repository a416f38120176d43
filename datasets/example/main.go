package main

// Example command that loads one sketch dataset, prints its statistics and a
// small padded stroke-5 batch, and converts the batch into gomlx tensors.
// Optionally the dataset can be simplified with Douglas-Peucker and written
// back as a gob snapshot for faster loading.
//
// Usage:
//   go run ./datasets/example -data-dir data -dataset cat.json
//   go run ./datasets/example -dataset cat.json -simplify 2 -write-gob data/cat.gob

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/sketchrnn/datasets"
	"github.com/Noofbiz/sketchrnn/stroke"
)

func main() {
	dataDir := flag.String("data-dir", "data", "directory holding the dataset files")
	name := flag.String("dataset", "", "dataset file name inside -data-dir (.json or .gob)")
	n := flag.Int("n", 4, "number of sketches in the printed batch")
	tolerance := flag.Float64("simplify", 0, "Douglas-Peucker tolerance applied before writing (0 = off)")
	writeGob := flag.String("write-gob", "", "if set, write the (simplified) dataset as a gob snapshot to this path")
	flag.Parse()

	if *name == "" {
		names, err := datasets.FindSourcesIn(*dataDir)
		if err != nil {
			log.Fatalf("no -dataset given: %v", err)
		}
		*name = names[0]
	}

	src, err := datasets.Resolve(*dataDir, *name)
	if err != nil {
		log.Fatalf("failed to resolve dataset: %v", err)
	}
	raw, err := src.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	fmt.Printf("Dataset %s: train=%d valid=%d test=%d\n", src.Name(), len(raw.Train), len(raw.Valid), len(raw.Test))

	if *tolerance > 0 {
		before, after := 0, 0
		for _, split := range [][]stroke.Sequence{raw.Train, raw.Valid, raw.Test} {
			for i, s := range split {
				before += len(s)
				split[i] = stroke.FromLines(stroke.Simplify(stroke.ToLines(s), *tolerance))
				after += len(split[i])
			}
		}
		fmt.Printf("Simplified with tolerance %g: %d -> %d points\n", *tolerance, before, after)
	}

	if *writeGob != "" {
		if err := datasets.WriteGob(*writeGob, src.Name(), raw); err != nil {
			log.Fatalf("failed to write gob snapshot: %v", err)
		}
		fmt.Printf("Wrote snapshot to %s\n", *writeGob)
	}

	maxLen := stroke.MaxLen(raw.Train)
	cfg := datasets.LoaderConfig{
		BatchSize:    max(1, min(*n, len(raw.Train))),
		MaxSeqLength: max(1, maxLen),
	}
	cfg.Seed(1)
	loader, err := datasets.NewLoader(raw.Train, make([]int, len(raw.Train)), cfg)
	if err != nil {
		log.Fatalf("failed to create loader: %v", err)
	}
	if err := loader.Normalize(0); err != nil {
		log.Fatalf("failed to normalize: %v", err)
	}
	fmt.Printf("Max sequence length %d, normalizing scale factor %.4f\n", maxLen, loader.ScaleFactor())

	if loader.NumBatches() == 0 {
		fmt.Println("Training split too small for a batch")
		return
	}
	batch, err := loader.GetBatch(0)
	if err != nil {
		log.Fatalf("failed to build batch: %v", err)
	}
	inputs, labels, err := batch.ToGomlxTensors()
	if err != nil {
		log.Fatalf("failed to convert batch to gomlx tensors: %v", err)
	}
	fmt.Printf("Created tensors: stroke5=%v lengths=%v labels=%v\n",
		inputs[0].Shape(), inputs[1].Shape(), labels.Shape())

	for i := 0; i < batch.Len(); i++ {
		b := stroke.GetBounds(batch.Strokes[i], 1)
		fmt.Printf("  sketch %d: %d points, %d strokes, %.2fx%.2f\n",
			batch.Indices[i], batch.Lengths[i], len(stroke.ToLines(batch.Strokes[i])), b.Width(), b.Height())
	}

	// Show the first example's stroke-5 rows up to the first padding row.
	rows := batch.Stroke5.Rows(0)
	for t, r := range rows {
		fmt.Printf("  %3d %v\n", t, r)
		if r[4] == 1 {
			break
		}
	}
}

// Package main provides the boudams command line: training, held-out
// evaluation and tagging for character-level word segmentation models.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Jean-Baptiste-Camps/boudams/internal/batch"
	"github.com/Jean-Baptiste-Camps/boudams/internal/model"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tagger"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
	"github.com/Jean-Baptiste-Camps/boudams/internal/training"
	"github.com/Jean-Baptiste-Camps/boudams/internal/vocab"
)

const version = "v0.1.0"

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	case "tag":
		err = runTag(os.Args[2:])
	case "version":
		fmt.Printf("boudams %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: boudams <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  train      Train a segmentation model from TSV corpora")
	fmt.Fprintln(os.Stderr, "  test       Evaluate a model archive on a held-out TSV split")
	fmt.Fprintln(os.Stderr, "  tag        Segment raw text with a model archive")
	fmt.Fprintln(os.Stderr, "  version    Show version")
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	def := training.DefaultConfig()

	trainPath := fs.String("train", "", "training corpus (TSV: source<TAB>segmented)")
	devPath := fs.String("dev", "", "development corpus (TSV)")
	configPath := fs.String("config", "", "YAML training configuration")
	system := fs.String("system", model.SystemBiGRU, fmt.Sprintf("architecture (%s)", strings.Join(model.Systems(), ", ")))
	masked := fs.Bool("mask", true, "train on mask classes instead of raw target characters")
	maxLength := fs.Int("max-length", 100, "drop corpus lines longer than this many characters")

	output := fs.String("output", def.OutPath, "model archive path")
	epochs := fs.Int("epochs", def.Epochs, "number of epochs")
	batchSize := fs.Int("batch-size", def.BatchSize, "examples per batch")
	lr := fs.Float64("lr", def.LR, "initial learning rate")
	minLR := fs.Float64("min-lr", def.MinLR, "learning rate floor")
	lrFactor := fs.Float64("lr-factor", def.LRFactor, "plateau reduction factor")
	lrPatience := fs.Int("lr-patience", def.LRPatience, "plateau patience in epochs")
	grace := fs.Int("lr-grace-period", def.GracePeriod, "epochs before the plateau patience applies")
	clip := fs.Float64("clip", def.Clip, "gradient norm clip bound")
	metric := fs.String("metric", def.Metric, "plateau metric (loss, accuracy, leven, leven_per_char)")
	seed := fs.Int64("seed", def.Seed, "shuffle and initialization seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trainPath == "" || *devPath == "" {
		return fmt.Errorf("train: -train and -dev are required")
	}

	cfg := def
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("train: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("train: %s: %w", *configPath, err)
		}
	}
	// Flags given on the command line win over the YAML file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.OutPath = *output
		case "epochs":
			cfg.Epochs = *epochs
		case "batch-size":
			cfg.BatchSize = *batchSize
		case "lr":
			cfg.LR = *lr
		case "min-lr":
			cfg.MinLR = *minLR
		case "lr-factor":
			cfg.LRFactor = *lrFactor
		case "lr-patience":
			cfg.LRPatience = *lrPatience
		case "lr-grace-period":
			cfg.GracePeriod = *grace
		case "clip":
			cfg.Clip = *clip
		case "metric":
			cfg.Metric = *metric
		case "seed":
			cfg.Seed = *seed
		}
	})

	le := vocab.New(*masked)
	if err := fitVocab(le, *trainPath); err != nil {
		return err
	}

	trainDS, err := batch.LoadTSV(le, *trainPath, *maxLength)
	if err != nil {
		return err
	}
	devDS, err := batch.LoadTSV(le, *devPath, *maxLength)
	if err != nil {
		return err
	}
	trainIt, err := batch.NewIterator(trainDS, cfg.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}
	devIt, err := batch.NewIterator(devDS, cfg.BatchSize, 0)
	if err != nil {
		return err
	}

	mcfg := model.DefaultConfig(*system)
	tg, err := tagger.New(le, mcfg, tensor.CPU, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return err
	}

	log.Printf("Training %s on %d examples (%d dev), vocabulary of %d", *system, trainDS.Len(), devDS.Len(), le.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tr := training.NewTrainer(tg, log.Default())
	return tr.Run(ctx, trainIt, devIt, cfg, nil)
}

func runTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	modelPath := fs.String("model", "", "model archive")
	testPath := fs.String("test", "", "held-out corpus (TSV)")
	batchSize := fs.Int("batch-size", 256, "examples per batch")
	maxLength := fs.Int("max-length", 0, "drop corpus lines longer than this many characters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" || *testPath == "" {
		return fmt.Errorf("test: -model and -test are required")
	}

	tg, err := tagger.Load(*modelPath, tensor.CPU, rand.New(rand.NewSource(1)))
	if err != nil {
		return err
	}
	ds, err := batch.LoadTSV(tg.Vocab(), *testPath, *maxLength)
	if err != nil {
		return err
	}
	it, err := batch.NewIterator(ds, *batchSize, 0)
	if err != nil {
		return err
	}

	_, err = training.NewTrainer(tg, log.Default()).Test(it)
	return err
}

func runTag(args []string) error {
	fs := flag.NewFlagSet("tag", flag.ExitOnError)
	modelPath := fs.String("model", "", "model archive")
	inputPath := fs.String("input", "", "text file with one sequence per line (default stdin)")
	outputPath := fs.String("output", "", "destination file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath == "" {
		return fmt.Errorf("tag: -model is required")
	}

	tg, err := tagger.Load(*modelPath, tensor.CPU, rand.New(rand.NewSource(1)))
	if err != nil {
		return err
	}

	lines, err := readLines(*inputPath)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			return fmt.Errorf("tag: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	next := tg.Annotate(lines)
	for segmented, ok := next(); ok; segmented, ok = next() {
		fmt.Fprintln(w, segmented)
	}
	return w.Flush()
}

// fitVocab builds the character inventory from the training corpus
// only; dev and test characters outside it map to the unknown id.
func fitVocab(le *vocab.LabelEncoder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		src, trg, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		// Masked targets use the mask alphabet, which is already
		// registered; raw targets contribute their own characters.
		if le.Masked() {
			le.Fit(src)
		} else {
			le.Fit(src, trg)
		}
	}
	return scanner.Err()
}

func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tag: %w", err)
		}
		defer f.Close()
		r = f
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/joho/godotenv"

	"github.com/loqalabs/loqa-recognizer/internal/config"
	"github.com/loqalabs/loqa-recognizer/internal/engine/backend"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
	"github.com/loqalabs/loqa-recognizer/internal/score"
)

var version = "0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type recognizeOptions struct {
	configPath string
	envPath    string
	hmm        string
	lm         string
	dict       string
	engine     string
	command    string
	audioPath  string
	async      bool
	timeout    time.Duration
	expect     string
	notify     bool
	jsonOut    bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'recognize' or 'version'")
		return exitUsage
	}

	switch args[0] {
	case "recognize":
		var opts recognizeOptions
		recognizeCmd := flag.NewFlagSet("recognize", flag.ContinueOnError)
		recognizeCmd.SetOutput(stderr)
		recognizeCmd.StringVar(&opts.configPath, "config", "", "Path to configuration file")
		recognizeCmd.StringVar(&opts.envPath, "env", ".env", "Path to dotenv file")
		recognizeCmd.StringVar(&opts.hmm, "hmm", "", "Acoustic model directory")
		recognizeCmd.StringVar(&opts.lm, "lm", "", "Language model file")
		recognizeCmd.StringVar(&opts.dict, "dict", "", "Pronunciation dictionary")
		recognizeCmd.StringVar(&opts.engine, "engine", "", "Engine mode: mock, exec or vosk")
		recognizeCmd.StringVar(&opts.command, "command", "", "Recognizer command for the exec engine")
		recognizeCmd.StringVar(&opts.audioPath, "audio", "", "WAV file to recognize instead of the configured source")
		recognizeCmd.BoolVar(&opts.async, "async", false, "Run the pass through the deferred API")
		recognizeCmd.DurationVar(&opts.timeout, "timeout", 0, "Bound the recognition pass")
		recognizeCmd.StringVar(&opts.expect, "expect", "", "Expected transcript; prints word and character error rates")
		recognizeCmd.BoolVar(&opts.notify, "notify", false, "Show the result as a desktop notification")
		recognizeCmd.BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
		recognizeCmd.BoolVar(&opts.verbose, "v", false, "Log engine activity to stderr")
		if err := recognizeCmd.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if err := runRecognize(ctx, opts, stdout, stderr); err != nil {
			fmt.Fprintf(stderr, "recognize: [%s] %v\n", recognizer.KindOf(err).Code(), err)
			return exitFailure
		}
		return exitOK
	case "version":
		fmt.Fprintln(stdout, version)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return exitUsage
	}
}

func loadConfig(opts recognizeOptions) (config.Config, error) {
	if err := godotenv.Load(opts.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.hmm != "" {
		cfg.Recognizer.HMM = opts.hmm
	}
	if opts.lm != "" {
		cfg.Recognizer.LM = opts.lm
	}
	if opts.dict != "" {
		cfg.Recognizer.Dict = opts.dict
	}
	if opts.engine != "" {
		cfg.Engine.Mode = opts.engine
	}
	if opts.command != "" {
		cfg.Engine.Command = opts.command
	}
	if opts.audioPath != "" {
		cfg.Audio.Source = "file"
		cfg.Audio.Path = opts.audioPath
	}
	if opts.timeout > 0 {
		cfg.Recognizer.TimeoutMS = int((opts.timeout + time.Millisecond - 1) / time.Millisecond)
	}
	return cfg, config.Validate(cfg)
}

func runRecognize(ctx context.Context, opts recognizeOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	logger.Debug("using " + backend.Describe(cfg))

	eng, err := backend.New(cfg, logger)
	if err != nil {
		return err
	}
	rec, err := recognizer.New(ctx, eng, cfg.Recognizer.Models(),
		recognizer.WithTimeout(cfg.Recognizer.Timeout()),
		recognizer.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Destroy(); err != nil {
			logger.Warn("recognizer teardown failed", slog.String("error", err.Error()))
		}
	}()

	var res recognizer.Result
	if opts.async {
		res, err = rec.RecognizeAsync(ctx).Wait(ctx)
	} else {
		res, err = rec.RecognizeResult(ctx)
	}
	if err != nil {
		return err
	}

	output := struct {
		Text       string   `json:"text"`
		Confidence float64  `json:"confidence"`
		DurationMS int64    `json:"duration_ms"`
		WER        *float64 `json:"wer,omitempty"`
		CER        *float64 `json:"cer,omitempty"`
	}{Text: res.Text, Confidence: res.Confidence, DurationMS: res.Duration.Milliseconds()}

	if opts.expect != "" {
		wer, err := score.WER(opts.expect, res.Text)
		if err != nil {
			return err
		}
		cer, err := score.CER(opts.expect, res.Text)
		if err != nil {
			return err
		}
		output.WER = &wer
		output.CER = &cer
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		if err := enc.Encode(output); err != nil {
			return err
		}
	} else {
		if res.Text == "" {
			fmt.Fprintln(stderr, "no speech detected")
		} else {
			fmt.Fprintln(stdout, res.Text)
		}
		if output.WER != nil {
			fmt.Fprintf(stdout, "WER %.2f CER %.2f\n", *output.WER, *output.CER)
		}
	}

	if opts.notify {
		message := res.Text
		if message == "" {
			message = "no speech detected"
		}
		if err := beeep.Notify("loqa-recognize", message, ""); err != nil {
			logger.Warn("desktop notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

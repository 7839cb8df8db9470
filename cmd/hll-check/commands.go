package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"sketch.lopezb.com/internal/sketch/hyperloglog"
	"sketch.lopezb.com/internal/sketch/prefixcode"
)

// Error is the error class for the command.
var Error = errs.Class("hll-check")

type options struct {
	debug        bool
	precision    uint
	registerBits uint
	estimator    string
	codes        string
	output       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "hll-check",
		Short:         "Build, inspect and combine HyperLogLog sketches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log representation changes")
	root.PersistentFlags().StringVar(&opts.estimator, "estimator", "ertl", "estimator for register histograms: ertl or harmonic")
	root.PersistentFlags().StringVar(&opts.codes, "codes", "tuned", "gap code family: tuned, rice, gamma or delta")

	build := &cobra.Command{
		Use:   "build [file]",
		Short: "Build a sketch from one element per line (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts, args)
		},
	}
	build.Flags().UintVarP(&opts.precision, "precision", "p", hyperloglog.DefaultPrecision, "precision p, 2^p registers")
	build.Flags().UintVarP(&opts.registerBits, "register-bits", "b", hyperloglog.DefaultRegisterBits, "register size in bits")
	build.Flags().StringVarP(&opts.output, "output", "o", "", "write the serialized sketch to this file")

	inspect := &cobra.Command{
		Use:   "inspect file...",
		Short: "Validate sketch files and describe them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts, args)
		},
	}

	union := &cobra.Command{
		Use:   "union a b",
		Short: "Estimate the cardinality of the union of two sketches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnion(cmd, opts, args)
		},
	}

	root.AddCommand(build, inspect, union)
	return root
}

// config turns the flags into a sketch configuration.
func (o *options) config() (hyperloglog.Config, error) {
	cfg := hyperloglog.DefaultConfig()
	cfg.Precision, cfg.RegisterBits = o.precision, o.registerBits

	switch o.estimator {
	case "ertl":
		cfg.Estimator = hyperloglog.Ertl
	case "harmonic":
		cfg.Estimator = hyperloglog.Harmonic
	default:
		return cfg, Error.New("unknown estimator %q", o.estimator)
	}

	switch o.codes {
	case "tuned":
		cfg.Codes = prefixcode.Tuned
	case "rice":
		cfg.Codes = prefixcode.RiceFamily
	case "gamma":
		cfg.Codes = prefixcode.Fixed(prefixcode.Gamma{})
	case "delta":
		cfg.Codes = prefixcode.Fixed(prefixcode.Delta{})
	default:
		return cfg, Error.New("unknown gap code family %q", o.codes)
	}

	log := zap.NewNop()
	if o.debug {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return cfg, Error.Wrap(err)
		}
	}
	cfg.Log = log
	return cfg, nil
}

func runBuild(cmd *cobra.Command, opts *options, args []string) (err error) {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	defer func() { _ = cfg.Log.Sync() }()

	s, err := hyperloglog.NewWithConfig(cfg)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		var f *os.File
		if f, err = os.Open(args[0]); err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = errs.Combine(err, f.Close()) }()
		in = f
	}

	var lines uint64
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		s.Add(scanner.Bytes())
		lines++
	}
	if err := scanner.Err(); err != nil {
		return Error.Wrap(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Lines:    %d\n", lines)
	describe(out, s)

	if opts.output != "" {
		if err := os.WriteFile(opts.output, s.Serialize(), 0o644); err != nil {
			return Error.Wrap(err)
		}
		fmt.Fprintf(out, "Written:  %s\n", opts.output)
	}
	return nil
}

func runInspect(cmd *cobra.Command, opts *options, args []string) error {
	out := cmd.OutOrStdout()
	var group errs.Group
	for _, path := range args {
		s, cached, err := load(opts, path)
		if err != nil {
			fmt.Fprintf(out, "%s: INVALID (%v)\n", path, err)
			group.Add(err)
			continue
		}

		fmt.Fprintf(out, "%s: OK\n", path)
		if cached.ok {
			fmt.Fprintf(out, "Cached:   %d\n", cached.count)
		}
		describe(out, s)
	}
	return group.Err()
}

func runUnion(cmd *cobra.Command, opts *options, args []string) error {
	a, _, err := load(opts, args[0])
	if err != nil {
		return err
	}
	b, _, err := load(opts, args[1])
	if err != nil {
		return err
	}

	est, err := hyperloglog.UnionCardinality(a, b)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d\n", args[0], a.Count())
	fmt.Fprintf(out, "%s: %d\n", args[1], b.Count())
	fmt.Fprintf(out, "Union:    %d (exact=%v)\n", est.Count(), est.Exact)
	return nil
}

type cachedCount struct {
	count uint64
	ok    bool
}

// load reads and validates a sketch file.
func load(opts *options, path string) (*hyperloglog.Sketch, cachedCount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cachedCount{}, Error.Wrap(err)
	}
	if !hyperloglog.HasValidMagic(data) {
		return nil, cachedCount{}, Error.New("%s: not a sketch file", path)
	}

	var cached cachedCount
	cached.count, cached.ok = hyperloglog.CachedCount(data)

	cfg, err := opts.config()
	if err != nil {
		return nil, cachedCount{}, err
	}
	s, err := hyperloglog.DeserializeWithConfig(data, cfg)
	if err != nil {
		return nil, cachedCount{}, Error.Wrap(err)
	}
	return s, cached, nil
}

// describe prints the representation and the estimate of a sketch.
func describe(w io.Writer, s *hyperloglog.Sketch) {
	cfg := s.Config()
	fmt.Fprintf(w, "Params:   p=%d b=%d (%d bytes)\n", cfg.Precision, cfg.RegisterBits, s.SizeBytes())
	if s.IsSparse() {
		fmt.Fprintf(w, "Encoding: sparse, %d-bit codes, %d entries in %d bits\n", s.Width(), s.Len(), s.BitIndex())
	} else {
		fmt.Fprintf(w, "Encoding: dense, %d of %d registers set\n", s.Occupied(), s.Codec().Buckets())
	}

	est := s.Estimate()
	fmt.Fprintf(w, "Estimate: %d (%s)\n", est.Count(), cfg.Estimator)
}

// qkdsim runs a batch of key-distribution trials for each entry in the
// cartesian product of a collection of channel and eavesdropper parameters,
// e.g. fiber length and intercept fraction, and outputs per-combination
// statistics, e.g. mean QBER and secure key rate, as CSV or a JSON report.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"text/template"
	"time"

	flag "github.com/spf13/pflag"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quantumshield/qkdsim/qkd"
	"github.com/quantumshield/qkdsim/qkd/analysis"
	"github.com/quantumshield/qkdsim/qkd/eve"
	"github.com/quantumshield/qkdsim/qkd/photon"
	"github.com/quantumshield/qkdsim/telemetry"
)

var (
	distances = flag.Float64Slice("distance", []float64{0},
		"Fiber lengths in km. Nonzero values derive channel loss from fiber attenuation, overriding --loss.")
	losses = flag.Float64Slice("loss", []float64{0},
		"Per-photon loss probabilities.")
	noises = flag.Float64Slice("noise", []float64{0},
		"Per-photon bit-flip probabilities.")
	efficiencies = flag.Float64Slice("efficiency", []float64{1},
		"Detector efficiencies.")
	darks = flag.Float64Slice("dark", []float64{0},
		"Dark count rates.")
	intercepts = flag.Float64Slice("intercept", []float64{0},
		"Fractions of photons Eve intercepts. 0 disables her entirely.")
	targets = flag.IntSlice("target", []int{256},
		"Secure key lengths to negotiate, in bits.")

	trials  = flag.Int("trials", 10, "Trials to run per parameter combination.")
	seed    = flag.Int64("seed", 42, "Base seed; each trial derives its own stream from it.")
	workers = flag.Int("workers", 0, "Parallel trial workers. 0 uses all CPUs.")
	threshold = flag.Float64("threshold", qkd.DefaultQBERThreshold,
		"QBER above which a run aborts.")
	sampleFraction = flag.Float64("sample-fraction", qkd.DefaultSampleFraction,
		"Fraction of sifted bits disclosed to estimate QBER.")
	biased = flag.Bool("biased", false,
		"Have Eve measure every intercepted photon in the rectilinear basis instead of guessing.")
	format   = flag.String("format", "csv", "Output format, csv or json.")
	logLevel = flag.String("log-level", "warn", "Minimum log level: debug, info, warn, error or silent.")
)

var (
	inputs = []string{"distance", "loss", "noise", "efficiency", "dark", "intercept", "target"}
	// TODO: consider using reflection to pull this out of the Experiment data
	//   type.
	columns = []string{"DistanceKm", "Loss", "Noise", "Efficiency", "DarkRate",
		"Intercept", "TargetBits", "Trials", "MeanQBER", "QBERStdDev",
		"MeanKeyRate", "MeanKeyBits", "DetectionRate", "AbortRate"}
)

// An Experiment packages together the aggregate outcome of the trials run at
// a single parameterization for easy formatting.
type Experiment struct {
	// Fields corresponding to experiment parameters
	DistanceKm float64
	Loss       float64
	Noise      float64
	Efficiency float64
	DarkRate   float64
	Intercept  float64
	TargetBits int

	// Fields corresponding to experiment results
	Trials        int
	MeanQBER      float64
	QBERStdDev    float64
	MeanKeyRate   float64
	MeanKeyBits   float64
	DetectionRate float64
	AbortRate     float64
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	logger := telemetry.NewLogger(telemetry.WithLevel(telemetry.ParseLevel(*logLevel)))
	var args [][]interface{}
	for _, inp := range inputs {
		args = append(args, lookupInput(inp))
	}
	var exps []*Experiment
	applyCartesian(func(vals []interface{}) {
		exps = append(exps, &Experiment{
			DistanceKm: vals[inpIndex("distance")].(float64),
			Loss:       vals[inpIndex("loss")].(float64),
			Noise:      vals[inpIndex("noise")].(float64),
			Efficiency: vals[inpIndex("efficiency")].(float64),
			DarkRate:   vals[inpIndex("dark")].(float64),
			Intercept:  vals[inpIndex("intercept")].(float64),
			TargetBits: vals[inpIndex("target")].(int),
		})
	}, args)

	ctx := context.Background()
	switch *format {
	case "csv":
		fmt.Println(strings.Join(columns, ", "))
		tmpl := template.Must(template.New("line").Parse(lineTmpl()))
		for _, exp := range exps {
			if _, err := run(ctx, logger, exp); err != nil {
				log.Fatalf("Running %+v: %v", *exp, err)
			}
			if err := tmpl.Execute(os.Stdout, exp); err != nil {
				log.Fatalf("BUG: could not fill in line template: %v", err)
			}
		}
	case "json":
		report, err := jsonReport(ctx, logger, exps)
		if err != nil {
			log.Fatalf("Building report: %v", err)
		}
		fmt.Println(report)
	default:
		log.Fatalf("Unknown format %q, want csv or json", *format)
	}
}

// run executes the trials for a single parameterization, fills in exp's
// result fields, and returns the raw per-trial results.
func run(ctx context.Context, logger *telemetry.Logger, exp *Experiment) ([]qkd.Result, error) {
	ch, err := photon.NewSimulated(photon.Params{
		LossProbability:    exp.Loss,
		NoiseProbability:   exp.Noise,
		DetectorEfficiency: exp.Efficiency,
		DarkCountRate:      exp.DarkRate,
		DistanceKm:         exp.DistanceKm,
	})
	if err != nil {
		return nil, fmt.Errorf("building channel: %w", err)
	}
	ev, err := eve.New(eveConfig(exp.Intercept))
	if err != nil {
		return nil, fmt.Errorf("building eavesdropper: %w", err)
	}
	results, err := qkd.RunTrials(ctx, qkd.Opts{
		Channel: ch,
		Eve:     ev,
		Logger:  logger,
		Config: qkd.Config{
			TargetKeyLength: exp.TargetBits,
			SampleFraction:  *sampleFraction,
			QBERThreshold:   *threshold,
		},
	}, *trials, *seed, *workers)
	if err != nil {
		return nil, err
	}

	s := analysis.Summarize(results)
	exp.Trials = s.Trials
	exp.MeanQBER = s.QBERMean
	exp.QBERStdDev = s.QBERStdDev
	exp.MeanKeyRate = s.KeyRateMean
	exp.MeanKeyBits = s.MeanFinalKeyBits
	exp.DetectionRate = s.DetectionRate
	exp.AbortRate = s.AbortRate
	return results, nil
}

func eveConfig(fraction float64) eve.Config {
	switch {
	case fraction == 0:
		return eve.Config{Strategy: eve.None}
	case *biased:
		return eve.Config{Strategy: eve.BiasedIntercept, Basis: photon.Rectilinear}
	case fraction == 1:
		return eve.Config{Strategy: eve.InterceptResend}
	default:
		return eve.Config{Strategy: eve.PartialIntercept, Fraction: fraction}
	}
}

// jsonReport runs every experiment and renders a single self-describing
// document, suitable for downstream analysis tooling.
func jsonReport(ctx context.Context, logger *telemetry.Logger, exps []*Experiment) (string, error) {
	var all []qkd.Result
	var combos []interface{}
	for _, exp := range exps {
		results, err := run(ctx, logger, exp)
		if err != nil {
			return "", err
		}
		all = append(all, results...)
		combos = append(combos, map[string]interface{}{
			"distanceKm":    exp.DistanceKm,
			"loss":          exp.Loss,
			"noise":         exp.Noise,
			"efficiency":    exp.Efficiency,
			"darkRate":      exp.DarkRate,
			"intercept":     exp.Intercept,
			"targetBits":    exp.TargetBits,
			"trials":        exp.Trials,
			"meanQBER":      exp.MeanQBER,
			"qberStdDev":    exp.QBERStdDev,
			"meanKeyRate":   exp.MeanKeyRate,
			"meanKeyBits":   exp.MeanKeyBits,
			"detectionRate": exp.DetectionRate,
			"abortRate":     exp.AbortRate,
		})
	}

	overall := analysis.Summarize(all)
	pb, err := structpb.NewStruct(map[string]interface{}{
		"generatedAt":         time.Now().UTC().Format(time.RFC3339),
		"trialsPerCombination": *trials,
		"baseSeed":            *seed,
		"combinations":        combos,
		"overall": map[string]interface{}{
			"trials":        overall.Trials,
			"meanQBER":      overall.QBERMean,
			"qberStdDev":    overall.QBERStdDev,
			"meanKeyRate":   overall.KeyRateMean,
			"meanKeyBits":   overall.MeanFinalKeyBits,
			"detectionRate": overall.DetectionRate,
			"abortRate":     overall.AbortRate,
		},
	})
	if err != nil {
		return "", fmt.Errorf("assembling report: %w", err)
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(pb)
	if err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return string(out), nil
}

func inpIndex(v string) int {
	for i, inp := range inputs {
		if inp == v {
			return i
		}
	}
	return -1
}

func lineTmpl() string {
	var els []string
	for _, c := range columns {
		els = append(els, "{{."+c+"}}")
	}
	return strings.Join(els, ", ") + "\n"
}

func lookupInput(name string) []interface{} {
	var r []interface{}
	if v, err := flag.CommandLine.GetIntSlice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else if v, err := flag.CommandLine.GetFloat64Slice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else {
		log.Fatalf("Unknown type for input %s", name)
	}
	return r
}

func applyCartesian(f func([]interface{}), args [][]interface{}) {
	for i := range args {
		if len(args[i]) == 1 {
			continue
		}
		l := make([][]interface{}, len(args))
		r := make([][]interface{}, len(args))
		copy(l, args)
		copy(r, args)
		l[i] = args[i][:1]
		r[i] = args[i][1:]
		applyCartesian(f, l)
		applyCartesian(f, r)
		return
	}
	x := make([]interface{}, 0, len(args))
	for _, a := range args {
		x = append(x, a[0])
	}
	f(x)
}

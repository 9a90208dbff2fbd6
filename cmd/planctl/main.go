// Package main is a command line client computing and checking
// reconfiguration plans from instance files.
package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	version = "dev"

	app = kingpin.New("planctl", "Compute and check VM reconfiguration plans")

	verbose = app.Flag("verbose", "log the solver progress").
		Short('v').
		Default("false").
		Envar("PLANCTL_VERBOSE").
		Bool()

	solveCmd       = app.Command("solve", "compute a plan for an instance")
	solveInstance  = solveCmd.Flag("instance", "instance file (.json, .yaml)").Short('i').Required().ExistingFile()
	solveOptimize  = solveCmd.Flag("optimize", "keep searching for better plans").Bool()
	solveRepair    = solveCmd.Flag("repair", "only manage the VMs that may be misplaced").Bool()
	solveTimeLimit = solveCmd.Flag("time-limit", "search time limit, 0 for none").Default("10s").Duration()
	solveMaxEnd    = solveCmd.Flag("max-end", "plan horizon").Default("3600").Int()
	solveOut       = solveCmd.Flag("out", "write the plan to this file instead of stdout").Short('o').String()
	solveStats     = solveCmd.Flag("stats", "print the solving statistics on stderr").Bool()

	checkCmd      = app.Command("check", "check a plan against an instance")
	checkInstance = checkCmd.Flag("instance", "instance file (.json, .yaml)").Short('i').Required().ExistingFile()
	checkPlan     = checkCmd.Flag("plan", "plan file (.json, .yaml)").Short('p').Required().ExistingFile()

	versionCmd = app.Command("version", "print the version")
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newLogger(*verbose)
	defer logger.Sync()

	switch cmd {
	case solveCmd.FullCommand():
		opts := solveOptions{
			instance:  *solveInstance,
			optimize:  *solveOptimize,
			repair:    *solveRepair,
			timeLimit: *solveTimeLimit,
			maxEnd:    *solveMaxEnd,
			out:       *solveOut,
			stats:     *solveStats,
		}
		app.FatalIfError(solve(opts, os.Stdout, os.Stderr, logger), "solve")

	case checkCmd.FullCommand():
		app.FatalIfError(check(*checkInstance, *checkPlan, os.Stdout), "check")

	case versionCmd.FullCommand():
		fmt.Println("planctl", version)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

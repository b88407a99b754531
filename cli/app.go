// Package cli implements the blockpart command line.
package cli

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Version is set at build time with -ldflags "-X go.viam.com/blockpart/cli.Version=...".
var Version string

const (
	generalFlagDebug   = "debug"
	generalFlagQuiet   = "quiet"
	generalFlagLogFile = "log-file"

	partitionFlagConfig          = "config"
	partitionFlagSet             = "set"
	partitionFlagDisableInBlock  = "disable-inblock"
	partitionFlagSimpleSelection = "simple-selection"
	partitionFlagWorkers         = "workers"
	partitionFlagCompress        = "compress"
	partitionFlagSummary         = "summary"
	partitionFlagPlot            = "plot"
	partitionFlagExportBlocks    = "export-blocks"
	partitionFlagDebugRenders    = "debug-renders"
)

// Summary formats.
const (
	summaryTable = "table"
	summaryLines = "lines"
	summaryCSV   = "csv"
	summaryHist  = "histogram"

	histogramWidth = 40
)

// NewApp returns the blockpart app writing its output to out and errors and logs to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "blockpart",
		Usage:           "split Gaussian scenes into blocks and pick the cameras each block needs",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:    generalFlagQuiet,
				Aliases: []string{"q"},
				Usage:   "only log warnings and errors, and print no summary or progress",
			},
			&cli.StringFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to the size rotated `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "partition",
				Usage:     "partition a scene and write its camera/block mask",
				UsageText: "blockpart partition --config FILE [options]",
				Action:    PartitionAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     partitionFlagConfig,
						Aliases:  []string{"c"},
						Usage:    "load configuration from `FILE`",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  partitionFlagSet,
						Usage: "override a config value, as section.key=value",
					},
					&cli.BoolFlag{
						Name:  partitionFlagDisableInBlock,
						Usage: "do not mark cameras inside a block as seeing it without a render test",
					},
					&cli.Float64Flag{
						Name:  partitionFlagSimpleSelection,
						Usage: "when above 1, select cameras inside the block boundary enlarged by this factor",
					},
					&cli.IntFlag{
						Name:  partitionFlagWorkers,
						Usage: "number of cameras classified in parallel",
					},
					&cli.BoolFlag{
						Name:  partitionFlagCompress,
						Usage: "write the mask zstd compressed",
					},
					&cli.StringFlag{
						Name:  partitionFlagSummary,
						Value: summaryTable,
						Usage: "per block summary format: table, lines, csv or histogram",
					},
					&cli.BoolFlag{
						Name:  partitionFlagPlot,
						Usage: "write a chart of the cameras per block to the model directory",
					},
					&cli.BoolFlag{
						Name:  partitionFlagExportBlocks,
						Usage: "write the points of every block as ply files to the model directory",
					},
					&cli.BoolFlag{
						Name:  partitionFlagDebugRenders,
						Usage: "keep the images of every render test in the model directory",
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "summarize a camera/block mask written by partition",
				ArgsUsage: "<mask.npy[.zst]>",
				Action:    InspectAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  partitionFlagSummary,
						Value: summaryTable,
						Usage: "per block summary format: table, lines, csv or histogram",
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of partition config files",
				Action: SchemaAction,
			},
			{
				Name:   "version",
				Usage:  "print version info for this program",
				Action: VersionAction,
			},
		},
	}
}

// VersionAction prints the program version and the git revision it was built from.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	if c.Bool(generalFlagDebug) {
		fmt.Fprintf(c.App.Writer, "%s\n", info.String())
	}
	revision := "?"
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value[:min(8, len(setting.Value))]
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if modified {
		revision += "+"
	}
	version := Version
	if version == "" {
		version = "(dev)"
	}
	fmt.Fprintf(c.App.Writer, "version %s git=%s\n", version, revision)
	return nil
}

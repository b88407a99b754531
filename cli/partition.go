package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"go.viam.com/blockpart/config"
	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/partition"
	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/render"
	"go.viam.com/blockpart/scene"
)

// Files written to the model directory besides the snapshot.
const (
	chartFile  = "cameras_per_block.png"
	blocksDir  = "blocks"
	rendersDir = "renders"
)

const (
	stepLoad      = "load"
	stepResolve   = "resolve"
	stepPartition = "partition"
	stepWrite     = "write"
)

func partitionSteps() []*Step {
	return []*Step{
		{ID: stepLoad, Message: "Loading scene"},
		{ID: stepResolve, Message: "Resolving scene box"},
		{ID: stepPartition, Message: "Partitioning"},
		{ID: stepWrite, Message: "Writing artifacts"},
	}
}

// progressFactories builds the spinners and bars of the partition command.
var progressFactories = withProgressFactories(defaultSpinnerFactory, defaultBarFactory)

// isTerminal reports whether progress can be drawn on w. Spinners are noise in redirected output.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLogger(c *cli.Context) (logging.Logger, func() error) {
	logger := logging.NewBlankLogger("blockpart")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	switch {
	case c.Bool(generalFlagDebug):
		logger.SetLevel(logging.DEBUG)
	case c.Bool(generalFlagQuiet):
		logger.SetLevel(logging.WARN)
	default:
		logger.SetLevel(logging.INFO)
	}
	closeLog := logger.Sync
	if fn := c.String(generalFlagLogFile); fn != "" {
		appender, closer := logging.NewFileAppender(fn)
		logger.AddAppender(appender)
		closeLog = func() error {
			return multierr.Combine(logger.Sync(), closer.Close())
		}
	}
	return logger, closeLog
}

func writeSummary(w io.Writer, s partition.Summary, format string) error {
	switch format {
	case summaryTable:
		return s.WriteTable(w)
	case summaryLines:
		return s.WriteLines(w)
	case summaryCSV:
		_, err := fmt.Fprintln(w, s.Table().RenderCSV())
		return err
	case summaryHist:
		return s.WriteHistogram(w, histogramWidth)
	default:
		return errors.Errorf("unknown summary format %q", format)
	}
}

func checkSummaryFormat(format string) error {
	switch format {
	case summaryTable, summaryLines, summaryCSV, summaryHist:
		return nil
	default:
		return errors.Errorf("unknown summary format %q, expected table, lines, csv or histogram", format)
	}
}

// partitionArgs are the command line settings of a partition run beyond the config file.
type partitionArgs struct {
	Quiet        bool
	Compress     bool
	Summary      string
	Plot         bool
	ExportBlocks bool
	DebugRenders bool
}

// PartitionAction is the action of the partition command.
func PartitionAction(c *cli.Context) (err error) {
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()

	args := partitionArgs{
		Quiet:        c.Bool(generalFlagQuiet),
		Compress:     c.Bool(partitionFlagCompress),
		Summary:      c.String(partitionFlagSummary),
		Plot:         c.Bool(partitionFlagPlot),
		ExportBlocks: c.Bool(partitionFlagExportBlocks),
		DebugRenders: c.Bool(partitionFlagDebugRenders),
	}
	if err := checkSummaryFormat(args.Summary); err != nil {
		return err
	}

	cfg, err := config.Read(c.String(partitionFlagConfig), logger, c.StringSlice(partitionFlagSet)...)
	if err != nil {
		return err
	}
	if c.IsSet(partitionFlagDisableInBlock) {
		cfg.PipelineParams.DisableInBlock = c.Bool(partitionFlagDisableInBlock)
	}
	if c.IsSet(partitionFlagSimpleSelection) {
		cfg.PipelineParams.SimpleSelection = c.Float64(partitionFlagSimpleSelection)
	}
	if c.IsSet(partitionFlagWorkers) {
		cfg.PipelineParams.Workers = c.Int(partitionFlagWorkers)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pm := NewProgressManager(c.App.Writer, partitionSteps(), WithProgressOutput(!args.Quiet && isTerminal(c.App.Writer)), progressFactories)
	defer pm.Stop()
	res, err := runPartition(c.Context, cfg, args, pm, logger)
	if err != nil {
		return err
	}
	if args.Quiet {
		return nil
	}
	printf(c.App.Writer, "Output folder: %s", cfg.ModelDir())
	return writeSummary(c.App.Writer, res.Summary, args.Summary)
}

func runPartition(
	ctx context.Context, cfg *config.Config, args partitionArgs, pm *ProgressManager, logger logging.Logger,
) (*partition.Result, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	var (
		cloud *pointcloud.GaussianCloud
		cams  []*scene.Camera
	)
	if err := pm.Run(stepLoad, func() (string, error) {
		var err error
		if cloud, err = pointcloud.NewFromFile(cfg.PointCloudPath(), logger); err != nil {
			return "", err
		}
		if cams, err = scene.LoadCameras(cfg.CamerasPath(), logger); err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded %d points and %d cameras", cloud.Size(), len(cams)), nil
	}); err != nil {
		return nil, err
	}

	var settings partition.Settings
	if err := pm.Run(stepResolve, func() (string, error) {
		var err error
		settings, err = partition.Resolve(opts, cams, cloud, logger)
		if err != nil {
			return "", err
		}
		return "Scene box " + settings.Box.String(), nil
	}); err != nil {
		return nil, err
	}

	modelDir := cfg.ModelDir()
	runner := &partition.Runner{
		Settings: settings,
		Renderer: render.NewSplatRenderer(cfg.PipelineParams.ScaleModifier),
		Logger:   logger,
		OnCamera: pm.Increment,
	}
	if args.DebugRenders {
		runner.DebugDir = filepath.Join(modelDir, rendersDir)
	}
	var res *partition.Result
	if err := pm.Run(stepPartition, func() (string, error) {
		if err := pm.StartBar("Classifying cameras", settings.BlockCount()*len(cams)); err != nil {
			return "", err
		}
		var err error
		if res, err = runner.Run(ctx, cams, cloud); err != nil {
			return "", err
		}
		return fmt.Sprintf("Partitioned %d blocks, %d camera/block pairs selected",
			len(res.Blocks), res.Mask.Count()), nil
	}); err != nil {
		return nil, err
	}

	if err := pm.Run(stepWrite, func() (string, error) {
		return "", writeArtifacts(cfg, args, cloud, res, logger)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func writeArtifacts(
	cfg *config.Config, args partitionArgs, cloud *pointcloud.GaussianCloud, res *partition.Result, logger logging.Logger,
) error {
	maskPath := cfg.MaskPath(args.Compress)
	if err := partition.SaveMask(maskPath, res.Mask); err != nil {
		return errors.Wrap(err, "saving mask")
	}

	modelDir := cfg.ModelDir()
	snap := partition.NewSnapshot(res, cloud.Size())
	snap.Config = cfg.Name
	snap.MaskPath = maskPath
	snapPath, err := partition.SaveSnapshot(modelDir, snap)
	if err != nil {
		return errors.Wrap(err, "saving snapshot")
	}

	if args.Plot {
		if err := res.Summary.SaveChart(filepath.Join(modelDir, chartFile)); err != nil {
			return err
		}
	}
	if args.ExportBlocks {
		if err := partition.ExportBlocks(filepath.Join(modelDir, blocksDir), cloud, res.Blocks,
			pointcloud.PLYBinaryLittleEndian); err != nil {
			return errors.Wrap(err, "exporting blocks")
		}
	}
	logger.Infow("artifacts written", "run", res.Summary.RunID, "mask", maskPath, "snapshot", snapPath)
	return nil
}

// InspectAction is the action of the inspect command.
func InspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("inspect needs exactly one mask file")
	}
	format := c.String(partitionFlagSummary)
	if err := checkSummaryFormat(format); err != nil {
		return err
	}
	fn := c.Args().First()
	mask, err := partition.LoadMask(fn)
	if err != nil {
		return err
	}
	cams, blocks := mask.Shape()
	printf(c.App.Writer, "%s: %d cameras, %d blocks, %d selected", fn, cams, blocks, mask.Count())
	return writeSummary(c.App.Writer, partition.MaskSummary(filepath.Base(fn), mask), format)
}

// SchemaAction is the action of the schema command.
func SchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}

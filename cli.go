package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/printmycard/internal/config"
	"github.com/chazu/printmycard/internal/server"
	"github.com/chazu/printmycard/pkg/design"
	"github.com/chazu/printmycard/pkg/matrix"
	"github.com/chazu/printmycard/pkg/scene"
)

// cli holds state shared by every command once the root pre-run has
// loaded the configuration.
type cli struct {
	cfgFile   string
	verbose   bool
	cfg       *config.Config
	newKernel kernelFactory
}

// newRootCommand builds the command tree. Kernels come from newKernel.
func newRootCommand(newKernel kernelFactory) *cobra.Command {
	c := &cli{newKernel: newKernel}

	root := &cobra.Command{
		Use:          "printmycard",
		Short:        "Carve business cards for multi-material 3D printing",
		Long:         `printmycard turns a card design into a carved blank and one filler part per text field and QR code, exported as a multi-object 3MF or STL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if c.verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)
			cmd.SetContext(withLogger(cmd.Context(), logger))

			cfg, err := config.Load(config.New(), c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.generateCmd())
	root.AddCommand(c.runCmd())
	root.AddCommand(c.matrixCmd())
	return root
}

func (c *cli) app(ctx context.Context) *App {
	logger := loggerFromContext(ctx)
	return NewApp(c.cfg, c.newKernel(c.cfg, logger), logger)
}

func (c *cli) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			app := c.app(ctx)
			if err := app.Check(ctx); err != nil {
				logger.Warn("geometry kernel unavailable; /generate will fail", "err", err)
			}

			svc, store, err := app.Service(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if listen == "" {
				listen = c.cfg.Listen
			}
			srv := server.New(server.Options{
				Generator:      svc,
				Evaluator:      app,
				Health:         app.Check,
				RequestTimeout: c.cfg.RequestTimeout,
				Logger:         logger,
			})
			return srv.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func (c *cli) generateCmd() *cobra.Command {
	var (
		outDir string
		format string
		jobs   int
	)
	cmd := &cobra.Command{
		Use:   "generate <design.json|design.yaml>...",
		Short: "Generate cards from design files",
		Long:  `Generate builds every design concurrently, each in its own carving session, and writes one file per design named after it.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := scene.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			svc, store, err := c.app(ctx).Service(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			g, ctx := errgroup.WithContext(ctx)
			if jobs > 0 {
				g.SetLimit(jobs)
			}
			for _, path := range args {
				g.Go(func() error {
					prog := newProgress(logger)
					req, err := design.Load(path)
					if err != nil {
						return err
					}
					art, err := svc.Generate(ctx, req, f)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					for _, w := range art.Warnings {
						logger.Warn(path, "field", w.Field, "warning", w.Message)
					}
					out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+f.Extension())
					if err := os.WriteFile(out, art.Data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", out, err)
					}
					prog.done("Wrote " + out)
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "output directory")
	cmd.Flags().StringVarP(&format, "format", "f", "3mf", "export format (3mf or stl)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "maximum concurrent sessions (0 = unlimited)")
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "run <script.lisp>",
		Short: "Carve a card from a design script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := scene.ParseFormat(format)
			if err != nil {
				return err
			}
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			ctx := cmd.Context()
			prog := newProgress(loggerFromContext(ctx))
			app := c.app(ctx)

			sc, _, err := app.RunScript(ctx, string(source))
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + f.Extension()
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := scene.Export(ctx, app.kernel, sc, f, file); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}
			prog.done(fmt.Sprintf("Wrote %s (%s)", out, strings.Join(sc.Names(), ", ")))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: script name with the format's extension)")
	cmd.Flags().StringVarP(&format, "format", "f", "3mf", "export format (3mf or stl)")
	return cmd
}

func (c *cli) matrixCmd() *cobra.Command {
	var (
		border int
		level  string
	)
	cmd := &cobra.Command{
		Use:   "matrix <payload>",
		Short: "Print the framed QR matrix of a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if level == "" {
				level = c.cfg.Code.Level
			}
			lv, err := matrix.ParseLevel(level)
			if err != nil {
				return err
			}
			if border < 0 {
				border = c.cfg.Code.Border
			}
			m, err := matrix.Encoder{Level: lv}.Encode(args[0], border)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), m.String())
			fmt.Fprintf(cmd.ErrOrStderr(), "%d x %d modules, %d filled, level %s\n", m.Size(), m.Size(), m.Filled(), lv)
			return nil
		},
	}
	cmd.Flags().IntVar(&border, "border", -1, "quiet-zone modules (default from config)")
	cmd.Flags().StringVar(&level, "level", "", "error correction level: L, M, Q or H (default from config)")
	return cmd
}

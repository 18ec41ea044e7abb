package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/3-lines-studio/kiln"
	"github.com/3-lines-studio/kiln/internal/adapters/cli"
	"github.com/3-lines-studio/kiln/internal/adapters/env"
	"github.com/3-lines-studio/kiln/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kiln [dir]",
		Short:         "Bundle scripts, styles, static files and compiled modules",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.DetectMode() == core.ModeDev {
				return runServe(cmd.Context(), projectDir(args))
			}
			return runBuild(cmd.Context(), projectDir(args))
		},
	}

	root.AddCommand(&cobra.Command{
		Use:           "build [dir]",
		Short:         "Build the project into its destination directory",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), projectDir(args))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:           "serve [dir]",
		Short:         "Serve the project from memory and rebuild on change",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), projectDir(args))
		},
	})

	return root
}

func projectDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func runBuild(ctx context.Context, dir string) error {
	output := cli.NewOutput()

	b, err := bundler(output, dir)
	if err != nil {
		return err
	}
	if _, err := b.Build(ctx); err != nil {
		// The build report already listed the failure.
		return err
	}

	output.PrintDone("Build completed successfully")
	return nil
}

func runServe(ctx context.Context, dir string) error {
	output := cli.NewOutput()

	b, err := bundler(output, dir)
	if err != nil {
		return err
	}
	output.PrintHeader("Kiln Dev Server")
	if err := b.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		output.PrintError("%v", err)
		return err
	}
	return nil
}

func bundler(output *cli.Output, dir string) (*kiln.Bundler, error) {
	cfg, err := kiln.LoadConfig(dir)
	if err != nil {
		output.PrintHeader("Kiln")
		output.PrintError("Failed to load configuration: %v", err)
		return nil, err
	}
	b, err := kiln.New(cfg)
	if err != nil {
		output.PrintError("%v", err)
		return nil, err
	}
	return b, nil
}

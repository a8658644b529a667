// Filestream previews and packs directory trees as multipart upload bodies.
//
// "scan" lists the entries a match spec selects; "pack" writes the encoded
// multipart body, so the exact bytes an upload would send can be inspected
// or replayed with any HTTP tool.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	filestream "github.com/ipfs-shipyard/go-filestream"
)

type scanFlags struct {
	patterns        []string
	recursive       bool
	followSymlinks  bool
	noPeriodSpecial bool
	noDirFDs        bool
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.patterns, "pattern", "p", nil, "glob pattern to match (repeatable; default: everything)")
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().BoolVar(&f.followSymlinks, "follow-symlinks", false, "traverse symbolic links (no cycle detection)")
	cmd.Flags().BoolVar(&f.noPeriodSpecial, "no-period-special", false, "let wildcards match names starting with a dot")
	cmd.Flags().BoolVar(&f.noDirFDs, "no-dirfds", false, "force path-based traversal")
}

func (f *scanFlags) options() []filestream.Option {
	opts := []filestream.Option{}

	if len(f.patterns) > 0 {
		opts = append(opts, filestream.WithMatchSpec(f.patterns))
	}

	if f.recursive {
		opts = append(opts, filestream.WithRecursive())
	}

	if f.followSymlinks {
		opts = append(opts, filestream.WithFollowSymlinks())
	}

	if f.noPeriodSpecial {
		opts = append(opts, filestream.WithoutPeriodSpecial())
	}

	if f.noDirFDs {
		opts = append(opts, filestream.WithoutDirFDs())
	}

	return opts
}

func main() {
	logger := log.New(os.Stderr)

	root := &cobra.Command{
		Use:           "filestream",
		Short:         "Preview and pack directory trees as multipart upload bodies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScanCmd(), newPackCmd(logger))

	err := root.Execute()
	if err != nil {
		logger.Fatal(err)
	}
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "List the entries a match spec selects",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runScan(args[0], flags)
		},
	}

	flags.register(cmd)

	return cmd
}

func runScan(dir string, flags *scanFlags) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	w, err := filestream.Walk(dir, flags.options()...)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	dirColor := color.New(color.FgBlue, color.Bold)

	var files, dirs int

	var total uint64

	for {
		entry, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		if entry.Kind == filestream.EntryDirectory {
			dirs++
			dirColor.Println(entry.RelPath + "/")

			continue
		}

		files++

		size := "?"

		fi, statErr := os.Lstat(entry.AbsPath)
		if statErr == nil {
			size = humanize.Bytes(uint64(fi.Size()))
			total += uint64(fi.Size())
		}

		fmt.Printf("%s\t%s\n", entry.RelPath, size)
	}

	fmt.Printf("\n%d directories, %d files, %s\n", dirs, files, humanize.Bytes(total))

	return nil
}

func newPackCmd(logger *log.Logger) *cobra.Command {
	flags := &scanFlags{}

	var (
		output    string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "pack <directory>",
		Short: "Write the multipart body an upload of the directory would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPack(args[0], flags, output, chunkSize, logger)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (\"-\" for stdout)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk bound in bytes (default 4096)")

	return cmd
}

func runPack(dir string, flags *scanFlags, output string, chunkSize int, logger *log.Logger) error {
	opts := flags.options()
	opts = append(opts, filestream.WithLogger(logger))

	if chunkSize > 0 {
		opts = append(opts, filestream.WithChunkSize(chunkSize))
	}

	enc, err := filestream.EncodeDirectory(dir, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = enc.Close() }()

	out := os.Stdout
	if output != "-" {
		out, err = os.Create(output)
		if err != nil {
			return err
		}
		defer func() { _ = out.Close() }()
	}

	for name, value := range enc.Headers() {
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, value)
	}

	written, err := io.Copy(out, enc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", dir, err)
	}

	logger.Info("packed", "dir", dir, "bytes", humanize.Bytes(uint64(written)))

	return nil
}

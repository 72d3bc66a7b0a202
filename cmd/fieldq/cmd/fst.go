package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fst"
)

func newFSTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fst",
		Short: "Build and inspect FST value sets for list terms",
	}
	cmd.AddCommand(newFSTBuildCmd())
	cmd.AddCommand(newFSTDumpCmd())
	return cmd
}

func newFSTBuildCmd() *cobra.Command {
	var from, codec string

	cmd := &cobra.Command{
		Use:   "build <uri> [values...]",
		Short: "Encode values as an FST and store it at uri",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := args[1:]
			if from != "" {
				lines, err := readLines(from)
				if err != nil {
					return err
				}
				values = append(values, lines...)
			}
			if len(values) == 0 {
				return fmt.Errorf("no values given")
			}
			if err := fst.Write(cmd.Context(), args[0], codec, values, cachedir.Resolve); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d values to %s\n", len(values), args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Read values from a file, one per line")
	cmd.Flags().StringVar(&codec, "codec", "", "Compression codec: none, lz4 or zstd")
	return cmd
}

func newFSTDumpCmd() *cobra.Command {
	var codec string

	cmd := &cobra.Command{
		Use:   "dump <uri>",
		Short: "Print the values of an FST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := fst.NewManager()
			set, err := m.Load(cmd.Context(), args[0], codec)
			if err != nil {
				return err
			}
			values, err := set.Values()
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&codec, "codec", "", "Compression codec: none, lz4 or zstd")
	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

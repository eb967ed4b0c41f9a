package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"teleads/internal/target"
)

func newTargetsCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect or extend the target list",
	}
	cmd.AddCommand(newTargetsListCmd(opts), newTargetsAddCmd(opts))
	return cmd
}

func openRegistry(cmd *cobra.Command, opts *rootOpts) (*target.Registry, string, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, "", err
	}
	reg := target.NewRegistry(target.NewFileStore(cfg.Targets.Path), consoleLog())
	if _, err := reg.Load(cmd.Context()); err != nil {
		return nil, "", err
	}
	return reg, cfg.Targets.Path, nil
}

func newTargetsListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every target with its kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, _, err := openRegistry(cmd, opts)
			if err != nil {
				return err
			}
			table := plainTable(cmd, "#", "Kind", "Target")
			for i, t := range reg.List() {
				table.Append([]string{strconv.Itoa(i + 1), t.Kind.String(), t.String()})
			}
			table.Render()
			return nil
		},
	}
}

func newTargetsAddCmd(opts *rootOpts) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add [link|@handle|id]...",
		Short: "Add targets from arguments or a file (one per line)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raws := append([]string(nil), args...)
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				raws = append(raws, lines...)
			}
			if len(raws) == 0 {
				return fmt.Errorf("nothing to add")
			}
			reg, path, err := openRegistry(cmd, opts)
			if err != nil {
				return err
			}
			n, err := reg.Add(cmd.Context(), raws)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %d, total %d (%s)\n", n, reg.Len(), path)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read targets from this file")
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

// plainTable is a borderless, left-aligned table on the command's stdout.
func plainTable(cmd *cobra.Command, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	return table
}

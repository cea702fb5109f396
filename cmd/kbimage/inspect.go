package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/gobwas/glob"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kb"
	"github.com/wippyai/kbimage/kbtest"
)

var matchPattern string

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Load an image and list its constructs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var match glob.Glob
		if matchPattern != "" {
			g, err := glob.Compile(matchPattern)
			if err != nil {
				return fmt.Errorf("invalid --match pattern: %w", err)
			}
			match = g
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.OutOrStdout(), args[0], data, match)
	},
}

var manifestCmd = &cobra.Command{
	Use:   "manifest <image>",
	Short: "Print an image's manifest without loading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		m, err := image.ReadManifest(f)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Check that an image survives load, save, reload and clear unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return verify(cmd.OutOrStdout(), data)
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&matchPattern, "match", "m", "", "only list constructs whose name matches this glob")
}

func newEnv() *kb.Env {
	return kb.NewEnv(nil)
}

func inspect(w io.Writer, name string, data []byte, match glob.Glob) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Clear(); err != nil {
			logger.Warn("clear failed", zap.Error(err))
		}
	}()

	fmt.Fprintln(w, paint(titleStyle, name))
	fmt.Fprintf(w, "%s %s  %s %d\n",
		paint(dimStyle, "id"), report.ID,
		paint(dimStyle, "expressions"), report.Expressions)

	fmt.Fprintln(w)
	for _, m := range eng.Env().Modules() {
		fmt.Fprintf(w, "%s %s\n", paint(kindStyle, "defmodule"), paint(nameStyle, m.NameText()))
	}
	for _, c := range kbtest.Snapshot(eng.Env()) {
		if match != nil && !match.Match(c.Name) {
			continue
		}
		fmt.Fprintf(w, "%s %s::%s %s\n",
			paint(kindStyle, c.Kind), c.Module, paint(nameStyle, c.Name), paint(dimStyle, c.Detail))
		for _, e := range c.Exprs {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "\n%s %v\n", paint(dimStyle, "skipped"), report.Skipped)
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintln(w, paint(errorStyle, "warning: ")+d.String())
	}
	return nil
}

// verify loads data, saves it again, reloads the copy and compares. The
// first load and clear must leave every atom's count as it found it.
func verify(w io.Writer, data []byte) error {
	first, err := newEngine()
	if err != nil {
		return err
	}
	audit := kbtest.NewAudit(first.Env().Atoms())
	defer audit.Stop()

	if _, err := first.Load(bytes.NewReader(data)); err != nil {
		return err
	}
	want := kbtest.Snapshot(first.Env())

	var buf bytes.Buffer
	if err := first.Save(&buf); err != nil {
		_ = first.Clear()
		return err
	}
	if err := first.Clear(); err != nil {
		return err
	}
	if bad := audit.Unbalanced(); len(bad) > 0 {
		return fmt.Errorf("reference counts not conserved: %v", bad)
	}

	second, err := newEngine()
	if err != nil {
		return err
	}
	if _, err := second.Load(&buf); err != nil {
		return err
	}
	defer second.Clear()
	if diff := cmp.Diff(want, kbtest.Snapshot(second.Env())); diff != "" {
		return fmt.Errorf("reloaded image differs (-first +second):\n%s", diff)
	}

	fmt.Fprintf(w, "%s %d constructs, %d atoms balanced\n", paint(okStyle, "ok"), len(want), audit.Touched())
	return nil
}

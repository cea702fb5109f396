package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/kbimage"
	"github.com/wippyai/kbimage/kbtest"
)

var sampleCmd = &cobra.Command{
	Use:   "sample <out>",
	Short: "Write an image of the built-in sample knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := kbtest.NewSample()
		if err := kbimage.SaveFile(s.Env, args[0], cfg.EngineOptions(logger.Named("engine"))...); err != nil {
			return err
		}
		fi, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		logger.Debug("sample written", zap.String("path", args[0]), zap.Int64("size", fi.Size()))
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes)\n", paint(okStyle, "wrote"), args[0], fi.Size())
		return nil
	},
}

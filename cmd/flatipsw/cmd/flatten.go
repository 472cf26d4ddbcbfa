/*
Copyright © 2018-2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/colors"
	"github.com/blacktop/flatipsw/internal/commands/flatten"
	"github.com/blacktop/flatipsw/internal/config"
	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/blacktop/flatipsw/pkg/ipsw"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(flattenCmd)

	flattenCmd.Flags().StringP("output", "o", "", "Folder to write the flattened files to (default: ./output next to the IPSW)")
	flattenCmd.Flags().String("extract-dir", "", "Folder to unpack the IPSW into (default: next to the IPSW)")
	flattenCmd.Flags().Bool("keep-extracted", false, "Keep the unpacked IPSW")
	flattenCmd.Flags().Bool("keep-staging", false, "Keep the dyld shared cache extractor output")
	flattenCmd.Flags().Bool("follow-symlinks", false, "Follow symlinks on the mounted volumes")
	flattenCmd.Flags().Bool("no-progress", false, "Hide the unzip progress bar")
	flattenCmd.MarkFlagDirname("output")
	flattenCmd.MarkFlagDirname("extract-dir")
	viper.BindPFlag("flatten.output", flattenCmd.Flags().Lookup("output"))
	viper.BindPFlag("flatten.extract-dir", flattenCmd.Flags().Lookup("extract-dir"))
	viper.BindPFlag("flatten.keep-extracted", flattenCmd.Flags().Lookup("keep-extracted"))
	viper.BindPFlag("flatten.keep-staging", flattenCmd.Flags().Lookup("keep-staging"))
	viper.BindPFlag("flatten.follow-symlinks", flattenCmd.Flags().Lookup("follow-symlinks"))
	viper.BindPFlag("flatten.no-progress", flattenCmd.Flags().Lookup("no-progress"))
}

// flattenCmd represents the flatten command
var flattenCmd = &cobra.Command{
	Use:   "flatten <IPSW>",
	Short: "Copy every Mach-O of an IPSW (shared cache images included) into one folder",
	Example: `  # Flatten into ./output next to the IPSW
  ❯ flatipsw flatten iPhone15,2_16.0_20A362_Restore.ipsw

  # Flatten into /tmp/ios16 and keep the unpacked IPSW around
  ❯ flatipsw flatten --output /tmp/ios16 --keep-extracted iPhone15,2_16.0_20A362_Restore.ipsw`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"ipsw"}, cobra.ShellCompDirectiveFilterFileExt
	},
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		mounter, err := ipsw.DefaultMounter(conf.MountTools())
		if err != nil {
			return err
		}

		r, err := flatten.Run(&flatten.Config{
			IPSW:           filepath.Clean(args[0]),
			Output:         viper.GetString("flatten.output"),
			ExtractDir:     viper.GetString("flatten.extract-dir"),
			KeepExtracted:  viper.GetBool("flatten.keep-extracted"),
			KeepStaging:    viper.GetBool("flatten.keep-staging"),
			FollowSymlinks: viper.GetBool("flatten.follow-symlinks"),
			Progress:       !viper.GetBool("flatten.no-progress") && !viper.GetBool("verbose"),
			Scratch:        conf.Tools.Scratch,
			Mounter:        mounter,
			Extractor:      conf.Extractor(),
			Classifier:     magic.Default(conf.Tools.File),
		})
		if r != nil {
			printReport(r)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to flatten %s", args[0])
		}

		if err := r.Err(); err != nil {
			log.Warn("Some files could not be flattened (re-run with --verbose for details)")
			return fmt.Errorf("%d files failed", failures(r.Binaries)+failures(r.SharedCache))
		}

		log.Info(colors.Success().Sprint("Done"))
		return nil
	},
}

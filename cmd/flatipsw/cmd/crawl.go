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
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/colors"
	"github.com/blacktop/flatipsw/internal/config"
	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/blacktop/flatipsw/pkg/crawl"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringP("output", "o", "", "Folder to copy matching files to")
	crawlCmd.Flags().StringP("name", "n", "", "Regex the file name must start with")
	crawlCmd.Flags().StringP("type", "t", "", "Regex the file(1) description must start with")
	crawlCmd.Flags().Bool("invert-name", false, "Match files whose name does NOT match --name")
	crawlCmd.Flags().Bool("invert-type", false, "Match files whose type does NOT match --type")
	crawlCmd.Flags().Bool("dsc", false, "Split matching dyld shared caches instead of copying them (default rule: main caches)")
	crawlCmd.Flags().Bool("all", false, "Allow a rule without --name or --type (copies every file)")
	crawlCmd.Flags().Bool("follow-symlinks", false, "Follow symlinks")
	crawlCmd.Flags().Bool("keep-staging", false, "Keep the dyld shared cache extractor output")
	crawlCmd.MarkFlagRequired("output")
	crawlCmd.MarkFlagDirname("output")
	viper.BindPFlag("crawl.output", crawlCmd.Flags().Lookup("output"))
	viper.BindPFlag("crawl.name", crawlCmd.Flags().Lookup("name"))
	viper.BindPFlag("crawl.type", crawlCmd.Flags().Lookup("type"))
	viper.BindPFlag("crawl.invert-name", crawlCmd.Flags().Lookup("invert-name"))
	viper.BindPFlag("crawl.invert-type", crawlCmd.Flags().Lookup("invert-type"))
	viper.BindPFlag("crawl.dsc", crawlCmd.Flags().Lookup("dsc"))
	viper.BindPFlag("crawl.all", crawlCmd.Flags().Lookup("all"))
	viper.BindPFlag("crawl.follow-symlinks", crawlCmd.Flags().Lookup("follow-symlinks"))
	viper.BindPFlag("crawl.keep-staging", crawlCmd.Flags().Lookup("keep-staging"))
}

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <FOLDER>",
	Short: "Copy the files of a folder (or mounted volume) that match a rule",
	Example: `  # Copy every Mach-O of a mounted filesystem (except the shared caches)
  ❯ flatipsw crawl /mnt/fs --type Mach-O --name dyld_shared_cache_ --invert-name -o /tmp/bins

  # Copy python scripts
  ❯ flatipsw crawl ./fake_fs --type 'Python script' -o /tmp/py

  # Split the dyld shared caches of a mounted cryptex
  ❯ flatipsw crawl /mnt/cryptex --dsc -o /tmp/dsc`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		rule, err := crawl.NewRule(
			viper.GetString("crawl.name"),
			viper.GetString("crawl.type"),
			viper.GetBool("crawl.invert-name"),
			viper.GetBool("crawl.invert-type"),
		)
		if err != nil {
			return errors.Wrap(err, "invalid rule")
		}

		classifier := magic.Default(conf.Tools.File)

		var handler crawl.Handler = &crawl.CopyHandler{}
		if viper.GetBool("crawl.dsc") {
			if rule.IsVacuous() {
				rule = crawl.SharedCacheRule()
			}
			workDir, err := os.MkdirTemp(conf.Tools.Scratch, "flatipsw-dsc-")
			if err != nil {
				return errors.Wrap(err, "failed to create extractor work dir")
			}
			defer os.RemoveAll(workDir)
			x := conf.Extractor()
			x.WorkDir = workDir
			handler = &crawl.SharedCacheHandler{
				Extractor:   x,
				Classifier:  classifier,
				KeepStaging: viper.GetBool("crawl.keep-staging"),
			}
		}

		if rule.IsVacuous() && !viper.GetBool("crawl.all") {
			return fmt.Errorf("refusing to copy every file of %s: give --name/--type (or --all)", args[0])
		}

		r, err := crawl.Crawl(&crawl.Config{
			Root:           filepath.Clean(args[0]),
			Output:         viper.GetString("crawl.output"),
			Rule:           rule,
			Handler:        handler,
			Classifier:     classifier,
			FollowSymlinks: viper.GetBool("crawl.follow-symlinks"),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to crawl %s", args[0])
		}

		fmt.Println()
		printResult(rule.String(), r)

		if len(r.Failures) > 0 {
			return fmt.Errorf("%d files failed", len(r.Failures))
		}
		log.Info(colors.Success().Sprint("Done"))
		return nil
	},
}

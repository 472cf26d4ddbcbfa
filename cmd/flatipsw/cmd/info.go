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

	"github.com/blacktop/flatipsw/internal/colors"
	"github.com/blacktop/flatipsw/pkg/ipsw"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info <IPSW>",
	Short:         "Show the disk images flatten would mount",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"ipsw"}, cobra.ShellCompDirectiveFilterFileExt
	},
	RunE: func(cmd *cobra.Command, args []string) error {

		ipswPath := filepath.Clean(args[0])

		bm, err := ipsw.ReadBuildManifest(ipswPath)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", ipswPath)
		}

		fmt.Println(bm)

		vols, err := bm.Volumes("")
		if err != nil {
			return err
		}
		fmt.Println(colors.Header().Sprint("Volumes"))
		fmt.Printf("  %s %s\n", colors.Key().Sprint("Filesystem:  "), colors.Path().Sprint(vols.Filesystem))
		if vols.HasSharedCacheVolume() {
			fmt.Printf("  %s %s\n", colors.Key().Sprint("SharedCache: "), colors.Path().Sprint(vols.SharedCache))
		} else {
			fmt.Printf("  %s %s\n", colors.Key().Sprint("SharedCache: "), colors.Skipped().Sprint("on the filesystem image"))
		}
		return nil
	},
}

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

	"github.com/blacktop/flatipsw/internal/colors"
	"github.com/blacktop/flatipsw/internal/commands/flatten"
	"github.com/blacktop/flatipsw/pkg/crawl"
	"github.com/dustin/go-humanize"
)

func failures(r *crawl.Result) int {
	if r == nil {
		return 0
	}
	return len(r.Failures)
}

func printResult(title string, r *crawl.Result) {
	fmt.Println(colors.Header().Sprint(title))
	if r == nil {
		fmt.Printf("  %s\n", colors.Skipped().Sprint("did not run"))
		return
	}
	fmt.Printf("  %s %s\n", colors.Key().Sprint("Output:   "), colors.Path().Sprint(r.Output))
	fmt.Printf("  %s %s\n", colors.Key().Sprint("Scanned:  "), colors.Count().Sprint(humanize.Comma(int64(r.Scanned))))
	fmt.Printf("  %s %s\n", colors.Key().Sprint("Matched:  "), colors.Count().Sprint(humanize.Comma(int64(r.Matched))))
	fmt.Printf("  %s %s (%s)\n", colors.Key().Sprint("Emitted:  "),
		colors.Count().Sprint(humanize.Comma(int64(r.Emitted))),
		humanize.Bytes(uint64(r.BytesCopied)))
	fmt.Printf("  %s %s\n", colors.Key().Sprint("Ledger:   "), colors.Count().Sprintf("%d paths", len(r.Ledger)))
	if len(r.Failures) == 0 {
		fmt.Printf("  %s %s\n", colors.Key().Sprint("Failures: "), colors.Success().Sprint("none"))
		return
	}
	fmt.Printf("  %s %s\n", colors.Key().Sprint("Failures: "), colors.Failure().Sprint(len(r.Failures)))
	for _, f := range r.Failures {
		fmt.Printf("    %s %v\n", colors.Path().Sprint(f.Rel), f.Err)
	}
}

func printReport(r *flatten.Report) {
	fmt.Println()
	printResult("Binaries", r.Binaries)
	title := "Shared Cache"
	if r.Volumes != nil && r.Volumes.HasSharedCacheVolume() {
		title += " (SystemOS cryptex)"
	}
	printResult(title, r.SharedCache)
}

/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package banner provides the startup banner display for FlyStream.

OVERVIEW:
=========
Displays an ASCII art banner with version information and a compact view
of the effective configuration when the server starts. Uses ANSI escape
codes for colors.

USAGE:
======

	banner.Print()                     // Print to stdout
	banner.PrintTo(writer)             // Print to custom writer
	banner.PrintServerWithConfig(cfg)  // Print server banner with configuration
*/
package banner

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"code.cloudfoundry.org/bytefmt"

	"flystream/internal/config"
)

const bannerText = `  ___ _      ___ _
 | __| |_  _/ __| |_ _ _ ___ __ _ _ __
 | _|| | || \__ \  _| '_/ -_) _` + "`" + ` | '  \
 |_| |_|\_, |___/\__|_| \___\__,_|_|_|_|
        |__/
`

// ANSI escape codes for terminal text formatting.
const (
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "0.1.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

// Print displays the startup banner with version and copyright information.
func Print() {
	PrintTo(os.Stdout)
}

// PrintTo writes the banner to the specified writer.
func PrintTo(w io.Writer) {
	printHeader(w, "FlyStream")
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

// PrintServerWithConfig prints the server banner with the effective
// configuration.
func PrintServerWithConfig(cfg *config.Config) {
	PrintServerWithConfigTo(os.Stdout, cfg)
}

// PrintServerWithConfigTo writes the server banner with configuration to the specified writer.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	printHeader(w, "FlyStream Server")

	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)

	const lineWidth = 78

	printSectionHeader(w, "Storage", lineWidth)
	printRow3(w,
		fmtKV("Data", cfg.System.DataDir),
		fmtKV("Segment", formatSize(uint64(cfg.Segment.Size))),
		fmtKV("Log", cfg.Logging.Level))
	durability := "buffered"
	if cfg.Partition.EnforceFsync {
		durability = AnsiGreen + "fsync" + AnsiReset
	}
	expiry := AnsiDim + "forever" + AnsiReset
	if cfg.Retention.MessageExpiry > 0 {
		expiry = cfg.Retention.MessageExpiry.String()
	}
	printRow3(w,
		fmtKV("Persister", durability),
		fmtKV("Save every", fmt.Sprintf("%d msgs", cfg.Partition.MessagesRequiredToSave)),
		fmtKV("Retention", expiry))
	fmt.Fprintln(w)

	printSectionHeader(w, "Cache", lineWidth)
	if cfg.Cache.Enabled {
		printRow3(w,
			fmtKV("Size", AnsiGreen+formatSize(uint64(cfg.Cache.Size))+AnsiReset),
			fmtKV("Eviction", cfg.Cache.EvictionInterval.String()),
			fmtKV("Factor", fmt.Sprintf("%dx", cfg.Cache.OverEvictionFactor)))
	} else {
		printRow2(w, fmtKV("Cache", AnsiYellow+"off"+AnsiReset), "")
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "Security", lineWidth)
	compress := AnsiDim + "off" + AnsiReset
	if a := cfg.Compression.Algorithm; a != "" && a != "none" {
		compress = strings.ToUpper(a)
	}
	printRow3(w,
		fmtEnabled("Encryption", cfg.IsEncryptionEnabled()),
		fmtKV("Compress", compress),
		fmtKV("Root", cfg.RootUser.Username))
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints", lineWidth)
	if cfg.Metrics.Enabled {
		printRow2(w, fmtKV("Metrics", AnsiGreen+cfg.Metrics.Addr+AnsiReset), "")
	} else {
		printRow2(w, fmtKV("Metrics", AnsiDim+"off"+AnsiReset), "")
	}
	printRow2(w,
		fmtKV("CPUs", fmt.Sprintf("%d", runtime.NumCPU())),
		fmtKV("GOMAXPROCS", fmt.Sprintf("%d", runtime.GOMAXPROCS(0))))
	fmt.Fprintln(w)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
	printLogSeparator(w)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  "+title+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  Streaming Storage Engine"+AnsiReset)
	fmt.Fprintln(w)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %svv%s %s%s%s %svv%s\n",
		AnsiYellow, line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line, AnsiReset)
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}

// formatSize renders a byte count, with 0 meaning no limit.
func formatSize(n uint64) string {
	if n == 0 {
		return "unlimited"
	}
	return bytefmt.ByteSize(n)
}

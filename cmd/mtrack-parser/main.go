// Command mtrack-parser is the driver for the trace consumer (spec.md
// §4.L): it assembles the wire record stream either from a single
// --input file or, in --packet-mode, from a sequence of transport
// packets read off stdin, runs it through internal/parser, and streams
// the resulting JSON artifact to --output. It follows the teacher's own
// cmd/* idiom of registering flags directly in main with the stdlib
// flag package, rather than a third-party CLI framework.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jhanssen/mtrack-sub000/internal/config"
	"github.com/jhanssen/mtrack-sub000/internal/parser"
	"github.com/jhanssen/mtrack-sub000/internal/transport"
	"github.com/jhanssen/mtrack-sub000/internal/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults := config.Defaults()

	var cfg config.Config
	flag.StringVar(&cfg.Input, "input", "", "trace input `file` (required unless --packet-mode)")
	flag.StringVar(&cfg.Output, "output", defaults.Output, "output JSON `file`")
	flag.BoolVar(&cfg.PacketMode, "packet-mode", false, "read the trace as transport packets from stdin instead of --input")
	flag.StringVar(&cfg.LogFile, "log-file", defaults.LogFile, "write diagnostics to `file` instead of stderr")
	flag.BoolVar(&cfg.Dump, "dump", defaults.Dump, "log a progress line every --threshold records")
	flag.BoolVar(&cfg.NoBundle, "no-bundle", defaults.NoBundle, "write plain JSON instead of gzip-wrapping the output")
	flag.IntVar(&cfg.Threshold, "threshold", defaults.Threshold, "records between --dump progress lines")
	flag.IntVar(&cfg.PID, "pid", 0, "pid of the traced process, logged for context only")
	flag.Parse()

	log := newLogger(cfg.LogFile)
	if cfg.PID != 0 {
		log = log.WithField("pid", cfg.PID)
	}

	buf, err := readInput(cfg)
	if err != nil {
		log.WithError(err).Error("mtrack-parser: could not read trace input")
		return 1
	}

	out, err := os.Create(cfg.Output)
	if err != nil {
		log.WithError(err).Error("mtrack-parser: could not create output file")
		return 2
	}
	defer out.Close()

	var w *writer.Writer
	if cfg.NoBundle {
		w = writer.New(out)
	} else {
		w = writer.NewGzip(out)
	}

	p := parser.New(w, log)
	if cfg.Dump {
		p.SetProgress(cfg.Threshold, func(s parser.Stats) {
			log.WithFields(logrus.Fields{
				"records": s.RecordCount,
				"events":  s.EventCount,
			}).Info("mtrack-parser: progress")
		})
	}

	if err := p.Run(buf); err != nil {
		log.WithError(err).Error("mtrack-parser: trace run failed")
		return 2
	}

	stats := p.Stats()
	log.WithFields(logrus.Fields{
		"records": stats.RecordCount,
		"events":  stats.EventCount,
	}).Info("mtrack-parser: done")
	return 0
}

// readInput assembles the complete wire stream. In --packet-mode it
// concatenates transport.PacketReader packets in arrival order; the
// packet framing only matters for transport integrity, not decoding
// (parser.Run just needs the bytes in order). Otherwise it slurps
// --input whole, the direct analogue of Parser::parse's mmap'd buffer.
func readInput(cfg config.Config) ([]byte, error) {
	if cfg.PacketMode {
		pr := transport.NewPacketReader(os.Stdin)
		var buf bytes.Buffer
		for {
			pkt, err := pr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("reading packet: %w", err)
			}
			buf.Write(pkt)
		}
		return buf.Bytes(), nil
	}

	if cfg.Input == "" {
		return nil, fmt.Errorf("--input is required outside --packet-mode")
	}
	return os.ReadFile(cfg.Input)
}

func newLogger(logFile string) *logrus.Entry {
	logger := logrus.New()
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logger.SetOutput(f)
		} else {
			logger.WithError(err).Warn("mtrack-parser: could not open log file, logging to stderr")
		}
	}
	return logrus.NewEntry(logger).WithField("component", "mtrack-parser")
}

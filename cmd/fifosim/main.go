package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/SakethVetcha/os-project-fifo/sim"
	"github.com/SakethVetcha/os-project-fifo/visualizer"
)

func main() {
	var mode = flag.String("mode", "run", "Mode: run, export, replay, or serve")
	var configPath = flag.String("config", "", "Path to a JSON configuration file")
	var frames = flag.Int("frames", 0, "Number of physical frames (overrides config)")
	var refs = flag.String("refs", "", "Page reference string, comma or space separated (overrides config)")
	var speed = flag.Int("speed", 0, "Autoplay interval in milliseconds (overrides config)")
	var format = flag.String("format", "json", "Export format: json, csv, archive, or tracefile")
	var out = flag.String("out", "", "Export output path (defaults into the trace directory)")
	var in = flag.String("in", "", "Trace path to replay (journal, archive, or JSON)")
	var addr = flag.String("addr", "", "Visualizer listen address (overrides config)")
	var verbose = flag.Bool("v", false, "Log at debug level")
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err == nil {
		err = applyOverrides(config, *frames, *refs, *speed, *addr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fifosim: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		config.LogLevel = "debug"
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fifosim: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.SlogLevel(),
	}))

	switch *mode {
	case "run":
		err = runSimulation(config, logger)
	case "export":
		err = exportTrace(config, logger, *format, *out)
	case "replay":
		err = replayTrace(*in)
	case "serve":
		err = serveVisualizer(config, logger)
	default:
		err = fmt.Errorf("unknown mode %q (must be run, export, replay, or serve)", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fifosim: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file when one is given, otherwise the
// FIFOSIM_* environment with built-in defaults
func loadConfig(path string) (*sim.Config, error) {
	if path == "" {
		return sim.LoadConfigFromEnv(), nil
	}
	return sim.LoadConfigFromFile(path)
}

func applyOverrides(config *sim.Config, frames int, refs string, speed int, addr string) error {
	if frames > 0 {
		config.FrameCount = frames
	}
	if refs != "" {
		parsed, err := sim.ParseReferenceString(refs)
		if err != nil {
			return err
		}
		config.PageReferences = parsed
	}
	if speed > 0 {
		config.SpeedMs = speed
	}
	if addr != "" {
		config.ListenAddr = addr
	}
	return nil
}

// runSimulation executes the whole reference string and prints the step
// table plus the closing totals
func runSimulation(config *sim.Config, logger *slog.Logger) error {
	engine, err := sim.NewEngine(config.FrameCount, config.PageReferences)
	if err != nil {
		return err
	}

	fmt.Printf("Frames: %d\n", config.FrameCount)
	fmt.Printf("References: %s\n", joinInts(config.PageReferences))
	fmt.Printf("Reclaim algorithm: FIFO\n")
	fmt.Println()

	printStepHeader()
	replacements := 0
	for i := 0; i < engine.TotalSteps(); i++ {
		result, err := engine.ProcessPageReference(i)
		if err != nil {
			return err
		}
		if result.Replaced() {
			replacements++
		}
		printStepRow(result)
	}

	state := engine.CurrentState()
	fmt.Println()
	fmt.Printf("Pages referenced: %d\n", state.CurrentStep)
	fmt.Printf("Page faults: %d\n", state.FaultCount)
	fmt.Printf("Page hits: %d\n", state.CurrentStep-state.FaultCount)
	fmt.Printf("Replacements: %d\n", replacements)
	fmt.Printf("Fault rate: %.2f%%\n", state.FaultRate)
	fmt.Printf("Final frames: %s\n", sim.FormatFrames(state.Frames))

	if config.EnableMetrics {
		engine.Metrics().LogMetrics(logger)
	}
	return nil
}

// exportTrace runs the scenario to completion and writes the trace in the
// requested format
func exportTrace(config *sim.Config, logger *slog.Logger, format, out string) error {
	engine, err := sim.NewEngine(config.FrameCount, config.PageReferences)
	if err != nil {
		return err
	}
	for i := 0; i < engine.TotalSteps(); i++ {
		if _, err := engine.ProcessPageReference(i); err != nil {
			return err
		}
	}

	if out == "" {
		if err := os.MkdirAll(config.TraceDirectory, 0755); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		out = filepath.Join(config.TraceDirectory, "trace."+extensionFor(format))
	}

	switch format {
	case "json":
		err = writeToFile(out, func(f *os.File) error { return sim.ExportTraceJSON(engine, f) })
	case "csv":
		err = writeToFile(out, func(f *os.File) error { return sim.ExportTraceCSV(engine, f) })
	case "archive":
		codec, cerr := sim.ParseCompressionType(config.ArchiveCodec)
		if cerr != nil {
			return cerr
		}
		err = sim.ExportTraceArchive(engine, out, codec)
	case "tracefile":
		err = writeTraceFile(out, engine)
	default:
		return fmt.Errorf("unknown export format %q (must be json, csv, archive, or tracefile)", format)
	}
	if err != nil {
		return err
	}

	logger.Info("trace exported", "format", format, "path", out,
		"steps", engine.CurrentStep(), "faults", engine.FaultCount())
	fmt.Println(out)
	return nil
}

// replayTrace prints the step table of a previously exported trace. The
// format is sniffed from the leading magic: mmap journal, compressed
// archive, or a plain JSON document.
func replayTrace(path string) error {
	if path == "" {
		return fmt.Errorf("replay requires -in with a trace path")
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	header := make([]byte, 2)
	_, err = io.ReadFull(file, header)
	file.Close()
	if err != nil {
		return fmt.Errorf("failed to read trace header: %w", err)
	}

	switch {
	case binary.LittleEndian.Uint16(header) == sim.TraceFileMagic:
		return replayJournal(path)
	case sim.IsArchive(header):
		doc, err := sim.ImportTraceArchive(path)
		if err != nil {
			return err
		}
		printDocument(doc)
		return nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var doc sim.TraceDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unrecognized trace format: %w", err)
		}
		printDocument(&doc)
		return nil
	}
}

// replayJournal walks the mmap journal sequentially. Steps re-executed
// after a rewind appear again, in application order.
func replayJournal(path string) error {
	journal, err := sim.OpenTraceFile(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	results, err := journal.ReadAll()
	if err != nil {
		return err
	}

	fmt.Printf("Frames: %d\n", journal.FrameCount())
	fmt.Println()
	printStepHeader()
	for _, result := range results {
		printStepRow(result)
	}

	fmt.Println()
	fmt.Printf("Journaled records: %d of %d steps\n", journal.RecordCount(), journal.TotalSteps())
	if len(results) > 0 {
		last := results[len(results)-1]
		fmt.Printf("Page faults: %d\n", last.FaultCount)
		fmt.Printf("Fault rate: %.2f%%\n", last.FaultRate)
	}
	return nil
}

func printDocument(doc *sim.TraceDocument) {
	fmt.Printf("Frames: %d\n", doc.FrameCount)
	fmt.Printf("References: %s\n", joinInts(doc.PageReferences))
	fmt.Println()

	printStepHeader()
	for _, step := range doc.Steps {
		printStepRow(step)
	}

	fmt.Println()
	fmt.Printf("Pages referenced: %d\n", doc.Summary.CurrentStep)
	fmt.Printf("Page faults: %d\n", doc.Summary.FaultCount)
	fmt.Printf("Page hits: %d\n", doc.Summary.HitCount)
	fmt.Printf("Fault rate: %.2f%%\n", doc.Summary.FaultRate)
}

func printStepHeader() {
	fmt.Printf("%5s %5s %-6s %7s %6s  %s\n", "step", "page", "result", "evicted", "faults", "frames")
}

func printStepRow(result sim.StepResult) {
	outcome := "fault"
	if result.IsHit {
		outcome = "hit"
	}
	evicted := "-"
	if result.Replaced() {
		evicted = strconv.Itoa(result.ReplacedPage)
	}
	fmt.Printf("%5d %5d %-6s %7s %6d  %s\n",
		result.StepIndex, result.PageNumber, outcome, evicted,
		result.FaultCount, sim.FormatFrames(result.FrameState))
}

// serveVisualizer runs the websocket visualizer until the listener fails
func serveVisualizer(config *sim.Config, logger *slog.Logger) error {
	server, err := visualizer.NewServer(visualizer.ServerConfig{
		SimConfig: config,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer server.Close()

	logger.Info("visualizer listening", "addr", config.ListenAddr)
	return http.ListenAndServe(config.ListenAddr, server.Handler())
}

func writeToFile(path string, write func(*os.File) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := write(file); err != nil {
		return err
	}
	return file.Sync()
}

func writeTraceFile(path string, engine *sim.Engine) error {
	journal, err := sim.CreateTraceFile(path, engine.FrameCount(), engine.TotalSteps())
	if err != nil {
		return err
	}
	defer journal.Close()

	return journal.AppendResults(engine.History().Slice())
}

func extensionFor(format string) string {
	switch format {
	case "csv":
		return "csv"
	case "archive":
		return "archz"
	case "tracefile":
		return "bin"
	default:
		return "json"
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

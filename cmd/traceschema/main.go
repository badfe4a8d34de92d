package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/SakethVetcha/os-project-fifo/sim"
	"github.com/SakethVetcha/os-project-fifo/visualizer"
)

func main() {
	var outPath string
	var kind string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.StringVar(&kind, "type", "trace", "schema to emit: trace or state")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema, err := buildSchema(kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema(kind string) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}

	switch kind {
	case "trace":
		schema := reflector.Reflect(new(sim.TraceDocument))
		schema.Title = "FIFO Simulation Trace"
		schema.Description = "Validates exported trace documents"
		return schema, nil
	case "state":
		schema := reflector.Reflect(new(visualizer.StateMessage))
		schema.Title = "FIFO Visualizer State Message"
		schema.Description = "Validates state pushes on the visualizer websocket"
		return schema, nil
	default:
		return nil, fmt.Errorf("unknown schema type %q (must be trace or state)", kind)
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}

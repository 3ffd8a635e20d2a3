// Command schema-exporter writes the machine-readable contracts of the
// gridsense API: the model manifest JSON Schema and an OpenAPI 3.0
// specification of the REST gateway. It can also validate a manifest
// file against the schema, for CI checks on model artifact bundles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/c360/gridsense/artifact"
)

func main() {
	outDir := flag.String("out", "./schemas", "Output directory for JSON Schemas")
	openapiOut := flag.String("openapi", "./specs/openapi.v3.yaml", "Output path for OpenAPI spec")
	manifestPath := flag.String("manifest", "", "Validate a manifest file and exit")
	flag.Parse()

	if *manifestPath != "" {
		if err := validateManifest(*manifestPath); err != nil {
			log.Fatalf("Manifest validation failed: %v", err)
		}
		log.Printf("Manifest is valid: %s", *manifestPath)
		return
	}

	log.Printf("Schema Exporter")
	log.Printf("  Output dir: %s", *outDir)
	log.Printf("  OpenAPI spec: %s", *openapiOut)

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	schemaFile := filepath.Join(*outDir, "manifest.v1.json")
	if err := writeManifestSchema(schemaFile); err != nil {
		log.Fatalf("Failed to write manifest schema: %v", err)
	}
	log.Printf("  Generated: %s", schemaFile)

	if *openapiOut != "" {
		if err := os.MkdirAll(filepath.Dir(*openapiOut), 0755); err != nil {
			log.Fatalf("Failed to create OpenAPI directory: %v", err)
		}
		if err := writeYAMLFile(*openapiOut, generateOpenAPISpec()); err != nil {
			log.Fatalf("Failed to write OpenAPI spec: %v", err)
		}
		log.Printf("  Generated OpenAPI spec: %s", *openapiOut)
	}

	log.Printf("Schema generation complete")
}

// writeManifestSchema writes the embedded manifest schema, re-indented so
// the exported file is stable regardless of how the constant is laid out.
func writeManifestSchema(filename string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(artifact.Schema), "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return os.WriteFile(filename, buf.Bytes(), 0644)
}

// validateManifest runs the full artifact load: schema validation plus
// the cross-field checks (feature order, label table totality).
func validateManifest(path string) error {
	_, err := artifact.Load(path)
	return err
}

package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OpenAPIDocument represents the complete OpenAPI 3.0 specification
type OpenAPIDocument struct {
	OpenAPI    string              `yaml:"openapi"`
	Info       InfoObject          `yaml:"info"`
	Servers    []ServerObject      `yaml:"servers"`
	Paths      map[string]PathItem `yaml:"paths"`
	Components ComponentsObject    `yaml:"components"`
	Tags       []TagObject         `yaml:"tags"`
}

// InfoObject contains API metadata
type InfoObject struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// ServerObject defines an API server
type ServerObject struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

// PathItem describes operations available on a path
type PathItem struct {
	Get  *Operation `yaml:"get,omitempty"`
	Post *Operation `yaml:"post,omitempty"`
}

// Operation describes a single API operation
type Operation struct {
	Summary     string              `yaml:"summary"`
	Description string              `yaml:"description,omitempty"`
	Tags        []string            `yaml:"tags,omitempty"`
	RequestBody *RequestBody        `yaml:"requestBody,omitempty"`
	Responses   map[string]Response `yaml:"responses"`
}

// RequestBody describes an operation request body
type RequestBody struct {
	Required bool                 `yaml:"required,omitempty"`
	Content  map[string]MediaType `yaml:"content"`
}

// Response describes an operation response
type Response struct {
	Description string               `yaml:"description"`
	Content     map[string]MediaType `yaml:"content,omitempty"`
}

// MediaType describes a media type and schema
type MediaType struct {
	Schema SchemaRef `yaml:"schema"`
}

// SchemaRef references a schema
type SchemaRef struct {
	Ref   string      `yaml:"$ref,omitempty"`
	Type  string      `yaml:"type,omitempty"`
	Items *SchemaRef  `yaml:"items,omitempty"`
	OneOf []SchemaRef `yaml:"oneOf,omitempty"`
}

// ComponentsObject holds reusable objects
type ComponentsObject struct {
	Schemas map[string]any `yaml:"schemas"`
}

// TagObject defines an API tag
type TagObject struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// generateOpenAPISpec generates the OpenAPI 3.0 specification of the
// REST gateway.
func generateOpenAPISpec() OpenAPIDocument {
	return OpenAPIDocument{
		OpenAPI: "3.0.3",
		Info: InfoObject{
			Title:       "Gridsense Prediction API",
			Description: "Appliance ON/OFF state predictions from household power readings",
			Version:     "1.0.0",
		},
		Servers: []ServerObject{
			{URL: "http://localhost:8080", Description: "Development server"},
		},
		Paths: buildPaths(),
		Components: ComponentsObject{
			Schemas: buildSchemas(),
		},
		Tags: []TagObject{
			{Name: "Predictions", Description: "Appliance state prediction endpoints"},
			{Name: "Service", Description: "Service status and health endpoints"},
		},
	}
}

// buildPaths creates the OpenAPI paths for the gateway endpoints
func buildPaths() map[string]PathItem {
	jsonContent := func(ref string) map[string]MediaType {
		return map[string]MediaType{
			"application/json": {Schema: SchemaRef{Ref: ref}},
		}
	}
	errorResponse := func(desc string) Response {
		return Response{
			Description: desc,
			Content:     jsonContent("#/components/schemas/Error"),
		}
	}

	return map[string]PathItem{
		"/api/predict": {
			Post: &Operation{
				Summary: "Predict appliance states from one reading or a batch",
				Description: "Accepts a single reading object or a JSON array of readings. " +
					"A batch response mirrors the input array one to one; items that fail " +
					"carry an error object in their position.",
				Tags: []string{"Predictions"},
				RequestBody: &RequestBody{
					Required: true,
					Content: map[string]MediaType{
						"application/json": {Schema: SchemaRef{OneOf: []SchemaRef{
							{Ref: "#/components/schemas/Reading"},
							{Type: "array", Items: &SchemaRef{Ref: "#/components/schemas/Reading"}},
						}}},
					},
				},
				Responses: map[string]Response{
					"200": {
						Description: "Prediction result, or a batch of results",
						Content:     jsonContent("#/components/schemas/Prediction"),
					},
					"400": errorResponse("Malformed or incomplete reading"),
					"413": errorResponse("Request body too large"),
					"429": errorResponse("Rate limit exceeded"),
					"502": errorResponse("Model artifact mismatch"),
					"504": errorResponse("Classifier timeout"),
				},
			},
		},
		"/api/predict/table": {
			Post: &Operation{
				Summary: "Predict appliance states for a column-oriented table",
				Description: "Appends predicted_label, confidence, per-device state " +
					"columns, and prediction_error to the submitted table.",
				Tags: []string{"Predictions"},
				RequestBody: &RequestBody{
					Required: true,
					Content:  jsonContent("#/components/schemas/Table"),
				},
				Responses: map[string]Response{
					"200": {
						Description: "The table with prediction columns appended",
						Content:     jsonContent("#/components/schemas/Table"),
					},
					"400": errorResponse("Structurally invalid table"),
				},
			},
		},
		"/api/latest": {
			Get: &Operation{
				Summary: "Latest streamed prediction",
				Tags:    []string{"Predictions"},
				Responses: map[string]Response{
					"200": {
						Description: "Most recent prediction from the meter stream",
						Content:     jsonContent("#/components/schemas/StreamedPrediction"),
					},
					"404": errorResponse("No prediction streamed yet"),
				},
			},
		},
		"/api/status": {
			Get: &Operation{
				Summary: "Service and model status",
				Tags:    []string{"Service"},
				Responses: map[string]Response{
					"200": {
						Description: "Service identity, model info, and stream state",
						Content:     jsonContent("#/components/schemas/Status"),
					},
				},
			},
		},
		"/healthz": {
			Get: &Operation{
				Summary: "Liveness probe",
				Tags:    []string{"Service"},
				Responses: map[string]Response{
					"200": {Description: "Service is running"},
					"503": {Description: "Service is stopped"},
				},
			},
		},
		"/metrics": {
			Get: &Operation{
				Summary: "Prometheus metrics",
				Tags:    []string{"Service"},
				Responses: map[string]Response{
					"200": {Description: "Metrics in Prometheus text exposition format"},
				},
			},
		},
	}
}

// buildSchemas defines the reusable schema objects
func buildSchemas() map[string]any {
	number := map[string]any{"type": "number"}
	return map[string]any{
		"Reading": map[string]any{
			"type":        "object",
			"description": "One electrical reading. Legacy key aliases from the manifest are accepted.",
			"properties": map[string]any{
				"voltage":        number,
				"current":        number,
				"active_power":   number,
				"reactive_power": number,
				"apparent_power": number,
				"power_factor":   number,
			},
			"required": []string{
				"voltage", "current", "active_power",
				"reactive_power", "apparent_power", "power_factor",
			},
		},
		"Prediction": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"label":         map[string]any{"type": "integer"},
				"device_states": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "boolean"}},
				"probabilities": map[string]any{"type": "object", "additionalProperties": number},
				"confidence":    number,
			},
		},
		"StreamedPrediction": map[string]any{
			"type":        "object",
			"description": "A prediction from the meter stream, with its readings and sequence number.",
			"properties": map[string]any{
				"seq":        map[string]any{"type": "integer"},
				"timestamp":  map[string]any{"type": "integer", "description": "Unix milliseconds"},
				"readings":   map[string]any{"$ref": "#/components/schemas/Reading"},
				"label":      map[string]any{"type": "integer"},
				"states":     map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "boolean"}},
				"confidence": number,
			},
		},
		"Table": map[string]any{
			"type":        "object",
			"description": "Column-oriented readings: columns name the features, rows hold values positionally.",
			"properties": map[string]any{
				"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"rows":    map[string]any{"type": "array", "items": map[string]any{"type": "array"}},
			},
			"required": []string{"columns", "rows"},
		},
		"Status": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service":     map[string]any{"type": "string"},
				"instance_id": map[string]any{"type": "string"},
				"environment": map[string]any{"type": "string"},
				"model":       map[string]any{"type": "object"},
				"devices":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"labels":      map[string]any{"type": "integer"},
				"sequence":    map[string]any{"type": "integer"},
				"subscribers": map[string]any{"type": "integer"},
			},
		},
		"Error": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"error":  map[string]any{"type": "string"},
				"status": map[string]any{"type": "integer"},
			},
		},
	}
}

// writeYAMLFile writes a struct to a YAML file
func writeYAMLFile(filename string, data any) error {
	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	// Add header comment
	header := []byte(strings.TrimSpace(`
# OpenAPI 3.0 Specification for the Gridsense Prediction API
# Generated by schema-exporter tool
# DO NOT EDIT MANUALLY - This file is auto-generated
`) + "\n\n")

	content := append(header, yamlData...)
	if err := os.WriteFile(filename, content, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

package artifact

// Schema is the JSON Schema every manifest must satisfy before any field
// is read. cmd/schema-exporter writes it alongside the API spec so
// training pipelines can validate manifests they produce without importing
// this module.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://c360.studio/schemas/gridsense-manifest.v1.json",
  "title": "gridsense model artifact manifest",
  "type": "object",
  "required": ["schema_version", "model", "features", "devices", "labels", "backend"],
  "additionalProperties": false,
  "properties": {
    "schema_version": {
      "type": "integer",
      "const": 1
    },
    "model": {
      "type": "object",
      "required": ["name", "version"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "version": {"type": "string", "minLength": 1},
        "trained_at": {"type": "string", "format": "date-time"}
      }
    },
    "features": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1
    },
    "aliases": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    },
    "devices": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "uniqueItems": true
    },
    "labels": {
      "type": "object",
      "minProperties": 1,
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {
        "type": "array",
        "items": {"type": "string", "minLength": 1},
        "uniqueItems": true
      }
    },
    "backend": {
      "type": "object",
      "required": ["type"],
      "additionalProperties": false,
      "properties": {
        "type": {"enum": ["onnx", "http"]},
        "path": {"type": "string"},
        "url": {"type": "string"},
        "timeout": {"type": ["integer", "string"]}
      }
    }
  }
}`

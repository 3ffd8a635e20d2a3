// Package config loads and validates the gridsense service configuration.
//
// Configuration comes from three sources, later ones winning:
//
//  1. Built-in defaults (Defaults): REST on 8080, stream on 8081, MQTT and
//     NATS disabled.
//  2. JSON file layers added with Loader.AddLayer, deep-merged field by
//     field so a site file only states what it changes.
//  3. GRIDSENSE_* environment variables for deployment-varying settings
//     (ports, broker addresses, credentials, log level).
//
// Duration fields accept Go duration strings in layer files ("30s", "2m").
// Credentials are accepted via env or file but are redacted from
// Config.String, which is what the startup log prints.
//
//	loader := config.NewLoader()
//	loader.AddLayer("gridsense.json")
//	cfg, err := loader.Load()
package config

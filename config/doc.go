// Package config loads and normalizes liteboty configuration documents.
//
// Two document versions are accepted. Version 1.0 lists service paths under
// SERVICES and keys per-service settings by short name in SERVICE_CONFIG.
// Version 2.0 maps each path to an object carrying enabled, priority, config,
// isolation and service_entry. Both normalize to the same Configuration, so
// the rest of the runtime never sees the difference.
//
// Load reads a JSON or YAML file with retry, validates it against an embedded
// JSON schema and returns an immutable snapshot. Store publishes the current
// snapshot to concurrent readers and Watcher reports debounced file changes
// so the supervisor can reload.
//
// Basic usage:
//
//	cfg, err := config.Load(ctx, "config.json")
//	if err != nil {
//	    return err
//	}
//	for _, svc := range cfg.EnabledServices() {
//	    fmt.Println(svc.Name, svc.Priority)
//	}
package config

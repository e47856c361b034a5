// Package config loads and watches the agent configuration file.
//
// Top-level types:
//   - Config{Service, Collector, Buffer, Reporter, Metrics} — full config
//     tree parsed from YAML
//   - ServiceConfig — service name + instance stamped on every segment
//   - CollectorConfig — collector gRPC address
//   - BufferConfig — channels, channel_size, batch_size (buffer geometry)
//   - ReporterConfig — completion_timeout, flush_interval
//   - MetricsConfig — Prometheus listen address
//
// Load(path) reads the YAML file, applies defaults (5 channels × 300,
// batch 50, 30s completion timeout, 30s flush interval, metrics :9099),
// fills the instance from the hostname, then validates required fields.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create
// pattern used by atomic-save editors by re-adding the watch after the
// event.
package config

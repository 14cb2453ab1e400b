// Package logx wraps zerolog behind a small structured-logging API with
// live-reconfigurable sinks (console, file).
//
// Components hold a Logger derived from the Service; when the operator changes
// logging config at runtime, Service.Apply() swaps the root logger and every
// derived Logger picks up the new level/sinks on the next call.
package logx

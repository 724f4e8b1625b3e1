// Package logx configures remindbot's structured logging.
//
// Logger is a thin value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional Telegram log chat receives warnings and errors, rate limited
//
// Service owns the sinks and can be reconfigured at runtime (config hot reload);
// loggers derived from it follow the new configuration without being rebuilt.
package logx

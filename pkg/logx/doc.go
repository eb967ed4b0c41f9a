// Package logx is teleads' structured logging layer.
//
// Logger wraps zerolog with field helpers and derived loggers (With). A
// Service owns the sinks and swaps them on Apply, so loggers handed out
// earlier follow config reloads:
//   - console: short timestamp and file:line caller
//   - file: one JSON object per line
//   - telegram: warnings and errors posted to the control chat, rate limited
package logx

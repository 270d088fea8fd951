// Package logx configures loggerbot's own structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink (min-level + rate limiting) that feeds the
//     delivery dispatcher
//
// Records tagged with Local() never reach the chat sink. The delivery path
// itself logs that way so a broken destination cannot feed its own failures
// back into the queue.
package logx

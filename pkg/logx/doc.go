// Package logx provides the process-wide structured logging service.
//
// It wraps zerolog behind a small Field/Logger API so components never touch
// zerolog directly, and supports live reconfiguration of sinks (console, file,
// operator Telegram chat) via Service.Apply.
package logx

// Package logx is schedd's structured logger, a thin layer over zerolog.
//
// Console output is human readable and goes to stderr so stdout stays free
// for command output. The optional file sink writes JSON lines. A Logger
// obtained from a Service follows every Service.Apply, which is how config
// hot reload changes the level or sinks of loggers already handed out.
package logx

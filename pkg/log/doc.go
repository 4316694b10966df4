/*
Package log provides structured logging for routeward using zerolog.

The components that log (tracker and its dispatcher, scheduler, admin
transport, and the daemon's main) get a component-scoped child logger via
WithComponent, plus WithSession/WithRoute/WithHandle helpers for attaching
the identity a log line is about. Logs use the console format unless
Config.JSONOutput is set, and are configured once at process start via
Init.
*/
package log

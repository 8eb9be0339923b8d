/*
Package log provides structured logging for the engine using zerolog.

All components log through a single global zerolog.Logger configured once at
process start via Init. Component- and fold-scoped child loggers are created
with WithComponent, WithContract, WithSortKey, and WithInteraction so that a
single readState root can be traced end to end across loader, evaluator, and
cache log lines.

Debug is for per-interaction fold detail, Info for contract lifecycle events
(evaluated, evolved, cache hit), Warn for recoverable interaction failures,
Error for aborted readState calls, and Fatal only at process startup.
*/
package log

// Package watch follows the parsing progress of exams over their server-push
// progress streams.
//
// A Consumer keeps at most one open Handle per exam. Each handle owns one
// HTTP event stream: a reader goroutine decodes frames onto a channel and a
// single consuming goroutine applies them in delivery order, so observers see
// events exactly as the server sent them.
//
// Handle lifecycle:
//
//	Idle -> Open -> Completed | Failed | Errored -> Closed
//	Idle | Open -> Closed (Close called or context cancelled)
//
// A completed parse triggers exactly one re-fetch of the exam; a failed parse
// marks the exam failed locally; a transport error only closes the handle.
// Nothing is retried.
package watch

// Package upload manages a queue of independent document uploads.
//
// # Overview
//
// Each enqueued file or URL becomes a Task that runs on its own goroutine.
// Tasks never wait on each other and one task's failure, including a panic in
// the uploader, is confined to that task.
//
// # Status
//
//   - Active{Progress}: a file upload with byte progress, 0..100, never decreasing
//   - Active{Indeterminate: true}: a URL ingestion, which reports no progress
//   - Failed{Progress, Err}: progress frozen, Err is a *TaskError
//   - Done{}: the status handed to OnDone
//
// A successful task leaves the queue immediately and OnDone runs. A failed
// task stays visible for a grace window (DefaultFailureGrace) and is then
// evicted by a timer that nothing cancels. There is no retry and no
// deduplication by name.
//
// # Usage
//
//	m := upload.NewManager(apiClient, upload.Options{
//		OnChange: render,
//		OnDone:   func(upload.Task) { refreshDocuments() },
//	})
//	m.EnqueueFiles(ctx, "notes.md", "paper.pdf")
//	m.Enqueue(ctx, upload.URLDescriptor("https://example.com/post"))
//	m.Wait()
package upload

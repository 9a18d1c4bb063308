// Package atelier provides a Go client for graph-based asynchronous compute
// servers. It submits a declarative job graph, waits for completion, and
// retrieves the produced artifacts (images and videos), with typed parameter
// overrides applied to the graph before submission.
//
// Atelier is designed as a library, not a service. Import it, point it at a
// compute endpoint, and execute graphs as ordinary Go values.
//
// # Quick Start
//
//	c, err := client.New("http://127.0.0.1:8188",
//	    client.WithLogger(logger),
//	)
//	defer c.Destroy()
//
//	result, err := c.Execute(ctx, g, overrides)
//	for _, a := range result.Artifacts {
//	    fmt.Println(a.Ref.Filename, a.Size)
//	}
//
// # Architecture
//
// The root package holds the shared configuration and the error taxonomy.
// Each concern lives in its own sub-package: graph (the job graph document),
// override (typed parameter mutation), transport (the HTTP adapter), retry
// (submission-time retries), poll (the wait-for-completion state machine),
// artifact (result extraction and bounded-memory downloads), ingest (URL and
// inline-binary asset uploads), and progress (the WebSocket event stream).
package atelier

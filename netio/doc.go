// File: netio/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package netio provides asynchronous sockets over the runtime's reactor.
//
// Listeners, stream connections and datagram sockets wrap raw descriptors;
// every blocking operation is exposed as a future that registers one
// kernel operation and parks its task until the completion arrives. The
// net package is deliberately not used: its descriptors belong to the Go
// runtime's own poller, which would fight the reactor for readiness.
package netio

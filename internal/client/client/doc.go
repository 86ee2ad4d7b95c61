// Package client is the Go client for the file-sharing protocol.
//
// A Client wraps one connection and issues requests one at a time: List,
// Upload, Download, Delete and Close. Failures reported by the server come
// back as *RemoteError, which matches the sentinels in internal/common, so
// callers can write
//
//	if errors.Is(err, common.ErrNotFound) { ... }
//
// A Client is safe for concurrent use; requests are serialized on the
// connection. Transport failures leave the connection unusable and the
// Client should be closed.
package client

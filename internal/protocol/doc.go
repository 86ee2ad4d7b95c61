// Package protocol implements the file sharing wire format.
//
// Every message is a frame:
//
//	[1 byte command][4 bytes big-endian payload length][payload]
//
// Requests are LIST, UPLOAD, DOWNLOAD, DELETE and CLOSE; the server answers
// with OK, ERROR and DATA. File content never travels in one frame: uploads
// and downloads are split into DATA frames no larger than the configured
// payload limit, and the codec hands content to callers as a stream
// (DataReader) or a lazy chunk sequence (Chunks) so that memory stays bounded
// by the chunk size, not the file size.
package protocol

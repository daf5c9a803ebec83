package protocol

// This package implements parsing and serialising of the text based
// publish/subscribe protocol Courier speaks with its server.
//
// The protocol aims to be
//
// - human readable
// - cheap to parse incrementally
// - binary safe for message payloads
//
// Every control line is ASCII and terminated with `\r\n`. A control line starts
// with a verb, the remaining space separated tokens are its arguments. Message
// payloads are raw bytes whose length is declared in the control line and are
// followed by a trailing `\r\n`.
//
// === Server to client
//
//   ```
//     INFO <json>\r\n
//     MSG <subject> <sid> [<reply-to>] <#bytes>\r\n<payload>\r\n
//     PING\r\n
//     PONG\r\n
//     +OK\r\n
//     -ERR <text>\r\n
//   ```
//
// `INFO` is the greeting, its JSON describes the server (see ServerInfo). `+OK`
// is only sent when the client connected in verbose mode. `-ERR` usually means
// the server is about to close the connection.
//
// === Client to server
//
//   ```
//     CONNECT <json>\r\n
//     PUB <subject> [<reply-to>] <#bytes>\r\n<payload>\r\n
//     SUB <subject> [<queue-group>] <sid>\r\n
//     UNSUB <sid> [<max-msgs>]\r\n
//     PING\r\n
//     PONG\r\n
//   ```
//
// === Parsing
//
// TCP hands us bytes in whatever chunks it likes, so a frame can be split
// anywhere: mid verb, mid payload, or between the `\r` and `\n` of the trailer.
// The Decoder keeps the unconsumed tail of the stream and the pending length of
// a MSG whose payload has not fully arrived. Pushing `a` then `b` always yields
// the same frames as pushing `a+b`.
//
// A payload that is not followed by `\r\n` means we have lost track of the
// stream. The Decoder reports ErrFrameCorrupt and refuses further input, the
// only way out is a new connection.
//

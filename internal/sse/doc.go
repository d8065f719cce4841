// Package sse decodes Server-Sent Events streams into frames.
//
// # Overview
//
// A Decoder wraps the body of a streaming HTTP response and yields one Frame
// per blank-line delimited record:
//
//	data: {"type":"answer","content":"Hi"}
//
//	data: [DONE]
//
// Records are cut from a byte buffer, so reads that end in the middle of a
// delimiter or a multibyte character are handled by waiting for more input.
// Only "data:" lines form the payload. The [DONE] record ends the stream.
//
// # Usage
//
//	dec := sse.NewDecoder(resp.Body, sse.WithLogger(logger))
//	for {
//		frame, err := dec.Next()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		// use frame.Data or frame.Decode(&v)
//	}
package sse

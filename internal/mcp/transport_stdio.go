package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/ratchetdata/ratchet/internal/log"
)

// ServeStdio runs the MCP server over newline-delimited JSON on r/w
// until r is exhausted or ctx is cancelled (§4.9 "Stdio: frames are
// newline-delimited JSON, one message per line"), matching the
// bufio.Scanner framing internal/ipc uses for the worker protocol.
func ServeStdio(ctx context.Context, server *Server, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(errResponse(nil, CodeParseError, "parse error", nil))
			continue
		}

		resp := server.Handle(ctx, req)
		if req.IsNotification() {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			log.ErrorErr(log.CatMCP, "stdio transport: failed to write response", err)
			return err
		}
	}
	return scanner.Err()
}

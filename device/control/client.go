package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultClientTimeout bounds Send when ctx has no deadline. It covers the
// pause acknowledgement.
const DefaultClientTimeout = 5 * time.Second

// Send sends one command to the control server on the loopback port and
// returns its response. A response with OK false is not an error.
func Send(ctx context.Context, port int, cmd string) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultClientTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return Response{}, fmt.Errorf("dial control port %d: %w", port, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(Request{Schema: SchemaVersion, Cmd: cmd}); err != nil {
		return Response{}, fmt.Errorf("send control request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read control response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal control response: %w", err)
	}
	return resp, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"time"
)

const (
	ipcDialTimeout  = 500 * time.Millisecond
	ipcReadDeadline = 1 * time.Second
)

type ipcCommand struct {
	Command []any `json:"command"`
}

type ipcResponse struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
	Event string `json:"event"`
}

// request performs one IPC round-trip on a fresh connection. mpv speaks
// newline-delimited JSON; asynchronous event lines may arrive before the
// command response and are skipped.
func (c *Channel) request(op string, command []any) (any, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if _, err := os.Stat(c.opts.Socket); err != nil {
		return nil, channelErr(op, "control socket missing", err)
	}

	conn, err := net.DialTimeout("unix", c.opts.Socket, ipcDialTimeout)
	if err != nil {
		return nil, channelErr(op, "connect", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(ipcCommand{Command: command})
	if err != nil {
		return nil, channelErr(op, "marshal", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, channelErr(op, "write", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(ipcReadDeadline)); err != nil {
		return nil, channelErr(op, "set deadline", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		var resp ipcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return nil, channelErr(op, "malformed response", err)
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, channelErr(op, resp.Error, nil)
		}
		return resp.Data, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, channelErr(op, "read", err)
	}
	return nil, channelErr(op, "no response", nil)
}

package eventstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by a dialer when the server refused the stream.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream %s: unexpected status %d", e.URL, e.Code)
}

// SSEDialer opens server-sent-events streams over HTTP.
type SSEDialer struct {
	// Client performs the request. It must not have a Timeout, which would
	// cut long-lived streams. Nil uses a client without timeout.
	Client *http.Client

	// Header is added to every request.
	Header http.Header
}

var streamClient = &http.Client{}

// Dial issues the GET request and returns once response headers arrived.
func (d *SSEDialer) Dial(ctx context.Context, url string) (Conn, error) {
	client := d.Client
	if client == nil {
		client = streamClient
	}

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	return &sseConn{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

type sseConn struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
}

// Recv parses lines until a blank line dispatches a message with data.
func (c *sseConn) Recv() (Message, error) {
	var (
		msg     Message
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Message{}, ErrStreamClosed
			}
			return Message{}, err
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if !hasData {
				msg = Message{}
				continue
			}
			if msg.Event == "" {
				msg.Event = DefaultEvent
			}
			msg.Data = data.Bytes()
			return msg, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			msg.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		case "id":
			msg.ID = string(value)
		}
	}
}

func (c *sseConn) Close() error {
	c.cancel()
	return c.body.Close()
}

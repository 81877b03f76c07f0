package nut

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the standard upsd TCP port.
const DefaultPort = 3493

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 2 * time.Second
)

var errClosedByServer = errors.New("connection closed by server")

// Target identifies one upsd endpoint plus optional credentials.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns the dialable host:port form of t.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// hasCredentials reports whether both halves of the login are present.
// A username without a password means no authentication at all.
func (t Target) hasCredentials() bool {
	return t.Username != "" && t.Password != ""
}

// Options tunes the network behaviour of a Client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is one connection to a upsd daemon and implements Lister.
//
// After a fatal read error mid-query the connection is marked broken and every
// later ListVariables call fails immediately; the caller still owns Close.
type Client struct {
	target      Target
	conn        net.Conn
	r           *bufio.Reader
	readTimeout time.Duration
	log         *slog.Logger
	broken      error
}

// Dial connects to upsd within opts.ConnectTimeout and, when t carries both a
// username and a password, authenticates before returning.
func Dial(ctx context.Context, t Target, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	d := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, &Error{Kind: ErrConnection, Server: t.Addr(), Err: err}
	}

	c := &Client{
		target:      t,
		conn:        conn,
		r:           bufio.NewReader(conn),
		readTimeout: opts.ReadTimeout,
		log:         opts.Logger.With("server", t.Addr()),
	}
	if t.hasCredentials() {
		if err := c.authenticate(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewDialer returns a DialFunc that calls Dial with opts.
func NewDialer(opts Options) DialFunc {
	return func(ctx context.Context, t Target) (Lister, error) {
		c, err := Dial(ctx, t, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *Client) authenticate() error {
	steps := []struct{ stage, cmd string }{
		{"username", "USERNAME " + c.target.Username},
		{"password", "PASSWORD " + c.target.Password},
	}
	for _, s := range steps {
		if err := c.send(s.cmd); err != nil {
			return &Error{Kind: ErrAuth, Server: c.target.Addr(), Stage: s.stage, Err: err}
		}
		resp, err := c.readLine()
		if err != nil {
			return &Error{Kind: ErrAuth, Server: c.target.Addr(), Stage: s.stage, Err: err}
		}
		if strings.HasPrefix(resp, "ERR") {
			return &Error{Kind: ErrAuth, Server: c.target.Addr(), Stage: s.stage, Response: resp}
		}
	}
	return nil
}

// ListVariables sends LIST VAR for ups and collects every matching VAR line
// until END LIST VAR or end-of-stream. ERR UNKNOWN-UPS yields ErrUnknownUPS
// and no variables.
func (c *Client) ListVariables(ups string) ([]Variable, error) {
	if c.broken != nil {
		return nil, c.upsErr(ups, ErrProtocol, "", c.broken)
	}
	if err := c.send("LIST VAR " + ups); err != nil {
		c.broken = err
		return nil, c.upsErr(ups, ErrProtocol, "", err)
	}

	var vars varSet
	for {
		line, err := c.readLine()
		if errors.Is(err, io.EOF) {
			c.broken = errClosedByServer
			return vars.list(), nil
		}
		if err != nil {
			c.broken = err
			return nil, c.upsErr(ups, ErrProtocol, "", err)
		}
		c.log.Debug("nut line", "ups", ups, "line", line)

		switch l := ParseLine(line, ups); l.Kind {
		case LineVar:
			vars.set(l.Name, l.Value)
		case LineEnd:
			return vars.list(), nil
		case LineUnknownUPS:
			return nil, c.upsErr(ups, ErrUnknownUPS, line, nil)
		case LineError:
			return nil, c.upsErr(ups, ErrProtocol, line, nil)
		}
	}
}

// Close logs out (best effort) and closes the socket.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.broken == nil {
		_ = c.send("LOGOUT")
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) upsErr(ups string, kind error, resp string, cause error) error {
	return &Error{Kind: kind, Server: c.target.Addr(), UPS: ups, Response: resp, Err: cause}
}

func (c *Client) send(cmd string) error {
	if c.conn == nil {
		return net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

// readLine reads one line with the read deadline re-armed. A final line
// without a trailing newline is returned before io.EOF.
func (c *Client) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return "", fmt.Errorf("setting read deadline: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

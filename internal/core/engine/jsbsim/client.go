// Package jsbsim drives a running JSBSim instance through its property input
// socket, a line-oriented TCP protocol enabled with an <input port="..."/>
// element in the simulation script:
//
//	set <property> <value>
//	get <property>          -> <property> = <value>
//	hold | resume
//	iterate <n>
//
// The bridge holds the simulation on connect and advances it with iterate,
// so JSBSim time only moves when the step loop ticks.
package jsbsim

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/flightbridge/internal/core/fdm"
	"github.com/zeusync/flightbridge/internal/core/observability/log"
)

var _ fdm.Exec = (*Client)(nil)

var ErrNotConnected = errors.New("jsbsim: not connected")

const prompt = "JSBSim>"

// Config locates the JSBSim input socket.
type Config struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	IOTimeout   time.Duration `yaml:"io_timeout"`
}

func DefaultConfig() Config {
	return Config{
		DialTimeout: 2 * time.Second,
		IOTimeout:   250 * time.Millisecond,
	}
}

// Client is not safe for concurrent use beyond what the step loop needs;
// the mutex only guards Close racing an in-flight request.
type Client struct {
	config Config
	logger log.Log

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	model  string
}

func New(config Config, logger log.Log) *Client {
	if logger == nil {
		logger = log.Provide()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}
	if config.IOTimeout <= 0 {
		config.IOTimeout = DefaultConfig().IOTimeout
	}
	return &Client{
		config: config,
		logger: logger.With(log.String("component", "jsbsim"), log.String("address", config.Address)),
	}
}

// LoadModel connects to the socket and holds the simulation. The aircraft
// itself is chosen by the script JSBSim was started with; model is only
// recorded for logging.
func (c *Client) LoadModel(ctx context.Context, model string) error {
	if c.config.Address == "" {
		return fdm.ErrEngineUnavailable
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return errors.Wrap(err, "dial jsbsim")
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.model = model
	c.mu.Unlock()

	if err = c.command("hold"); err != nil {
		_ = c.Close()
		return err
	}
	// A live engine answers with its clock; anything else is not JSBSim.
	if _, err = c.GetProperty("simulation/sim-time-secs"); err != nil {
		_ = c.Close()
		return errors.Wrap(err, "probe jsbsim")
	}

	c.logger.Info("Connected to JSBSim", log.String("model", model))
	return nil
}

// SetDT is a no-op: the script fixes the timestep. The bridge assumes it
// matches the loop rate.
func (c *Client) SetDT(dt time.Duration) error {
	c.logger.Debug("Engine timestep is fixed by the JSBSim script", log.Duration("requested", dt))
	return nil
}

// RunIC is a no-op: the script already ran its initial conditions.
func (c *Client) RunIC() error { return nil }

func (c *Client) Run() error {
	return c.command("iterate 1")
}

func (c *Client) SetProperty(name string, value float64) error {
	return c.command("set " + name + " " + strconv.FormatFloat(value, 'g', -1, 64))
}

func (c *Client) GetProperty(name string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked("get " + name); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(c.config.IOTimeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return 0, errors.Wrapf(err, "get %s", name)
		}
		if v, ok := parseReply(line, name); ok {
			return v, nil
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	// Let the engine run free again if it outlives the bridge.
	_ = c.writeLocked("resume")
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Client) command(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(line)
}

func (c *Client) writeLocked(line string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.IOTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", line); err != nil {
		return errors.Wrapf(err, "write %q", line)
	}
	return nil
}

// parseReply extracts the value from a "<name> = <value>" line. Prompts and
// unrelated output are skipped.
func parseReply(line, name string) (float64, bool) {
	line = strings.TrimSpace(strings.ReplaceAll(line, prompt, ""))
	key, value, found := strings.Cut(line, "=")
	if !found || strings.TrimSpace(key) != name {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

package mmcli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"vtstate/internal/mm"
)

// Client implements mm.Env by dialing one VM monitor socket per VM name,
// caching connections and redialing on a dead socket.
//
// Grounded on phenix/internal/mm/mmcli/client.go's package-level
// mu-protected lazy-dial-and-cache pattern, adapted from a single
// cluster-wide minimega connection to one monitor socket per VM (spec
// §6's "Env handle" is per-object, not cluster-wide).
type Client struct {
	// SocketPath resolves a VM name to the path of its monitor's unix
	// socket, e.g. "/tmp/minimega/<name>/qmp".
	SocketPath func(name string) string

	mu    sync.Mutex
	conns map[string]*monitor
}

// NewClient builds a Client with the given socket-path resolver.
func NewClient(socketPath func(name string) string) *Client {
	return &Client{
		SocketPath: socketPath,
		conns:      make(map[string]*monitor),
	}
}

// GetVM implements mm.Env.
func (c *Client) GetVM(name string) (mm.Runtime, error) {
	return &vm{name: name, client: c}, nil
}

func (c *Client) connection(name string) (*monitor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.conns[name]; ok {
		return m, nil
	}

	m, err := dialMonitor(c.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("dialing monitor for %s: %w", name, err)
	}

	c.conns[name] = m

	return m, nil
}

// redial drops a broken connection so the next call reconnects.
func (c *Client) redial(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.conns[name]; ok {
		m.close()
		delete(c.conns, name)
	}
}

// vm implements mm.Runtime over one VM's monitor socket.
type vm struct {
	name   string
	client *Client
}

func (v *vm) monitor() (*monitor, error) {
	return v.client.connection(v.name)
}

// human runs an HMP command via "human-monitor-command", the way a user
// typing it at the QEMU monitor would, redialing once on a broken
// connection (same redial-on-broken-pipe idiom as phenix's mmcli client).
func (v *vm) human(ctx context.Context, cmdline string) (string, error) {
	m, err := v.monitor()
	if err != nil {
		return "", err
	}

	ret, err := v.exec(m, cmdline)
	if err != nil && isBrokenConn(err) {
		v.client.redial(v.name)

		m, err = v.monitor()
		if err != nil {
			return "", err
		}

		return v.exec(m, cmdline)
	}

	return ret, err
}

func (v *vm) exec(m *monitor, cmdline string) (string, error) {
	if err := m.write(map[string]interface{}{
		"execute":   "human-monitor-command",
		"arguments": map[string]interface{}{"command-line": cmdline},
	}); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmdline, err)
	}

	resp, ok := <-m.sync
	if !ok {
		return "", fmt.Errorf("monitor connection closed waiting for %q", cmdline)
	}

	if e, failed := resp["error"]; failed {
		return "", fmt.Errorf("%q: %v", cmdline, e)
	}

	s, _ := resp["return"].(string)

	return s, nil
}

func isBrokenConn(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "EOF")
}

func (v *vm) IsAlive(ctx context.Context) (bool, error) {
	m, err := v.monitor()
	if err != nil {
		return false, nil
	}

	if _, err := m.query("query-status"); err != nil {
		v.client.redial(v.name)
		return false, nil
	}

	return true, nil
}

func (v *vm) Pause(ctx context.Context) error {
	m, err := v.monitor()
	if err != nil {
		return err
	}

	return m.exec("stop")
}

func (v *vm) Resume(ctx context.Context) error {
	m, err := v.monitor()
	if err != nil {
		return err
	}

	return m.exec("cont")
}

// Create and Destroy are expressed as monitor commands (HMP "cont"
// passthrough for Create, QMP "system_powerdown"/"quit" for Destroy)
// rather than minimega-level launch/kill verbs, so a single Runtime implementation
// covers the whole capability set spec §6 names as one opaque interface.
func (v *vm) Create(ctx context.Context) error {
	_, err := v.human(ctx, "cont")
	return err
}

func (v *vm) Destroy(ctx context.Context, graceful bool) error {
	m, err := v.monitor()
	if err != nil {
		return err
	}

	if graceful {
		if err := m.exec("system_powerdown"); err != nil {
			return err
		}
	}

	defer v.client.redial(v.name)

	return m.exec("quit")
}

func (v *vm) SaveToFile(ctx context.Context, path string) error {
	m, err := v.monitor()
	if err != nil {
		return err
	}

	return m.execArgs("migrate", map[string]interface{}{
		"uri": "exec:cat > " + path,
	})
}

func (v *vm) RestoreFromFile(ctx context.Context, path string) error {
	_, err := v.human(ctx, "migrate_incoming exec:cat "+path)
	return err
}

func (v *vm) MonitorSend(ctx context.Context, cmd string) (string, error) {
	return v.human(ctx, cmd)
}

func (v *vm) SaveVM(ctx context.Context, name string) error {
	_, err := v.human(ctx, "savevm "+name)
	return err
}

func (v *vm) LoadVM(ctx context.Context, name string) error {
	_, err := v.human(ctx, "loadvm "+name)
	return err
}

func (v *vm) DeleteVM(ctx context.Context, name string) error {
	_, err := v.human(ctx, "delvm "+name)
	return err
}

func (v *vm) VerifyStatus(ctx context.Context, status string) (bool, error) {
	m, err := v.monitor()
	if err != nil {
		return false, err
	}

	ret, err := m.query("query-status")
	if err != nil {
		return false, fmt.Errorf("querying status: %w", err)
	}

	body, ok := ret.(map[string]interface{})
	if !ok {
		return false, nil
	}

	s, _ := body["status"].(string)

	return s == status, nil
}

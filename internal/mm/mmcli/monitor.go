// Package mmcli implements the VM monitor client used by the vt backend
// (spec §4.3 "QCOW2-VT"): a minimal QMP-style JSON-over-unix-socket
// connection, adapted from src/qmp/qmp.go (same encode/decode-over-
// net.Conn shape, same sync/async message-channel split), generalised to
// also carry the savevm/loadvm/delvm verbs spec §4.3/§6 name explicitly.
package mmcli

import (
	"encoding/json"
	"fmt"
	"net"
)

type monitor struct {
	socket string
	conn   net.Conn
	dec    *json.Decoder
	enc    *json.Encoder
	sync   chan map[string]interface{}
	async  chan map[string]interface{}
}

func dialMonitor(socket string) (*monitor, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, err
	}

	m := &monitor{
		socket: socket,
		conn:   conn,
		dec:    json.NewDecoder(conn),
		enc:    json.NewEncoder(conn),
		sync:   make(chan map[string]interface{}, 1024),
		async:  make(chan map[string]interface{}, 1024),
	}

	// Greeting, then negotiate capabilities, same handshake as qmp.Dial.
	if _, err := m.read(); err != nil {
		return nil, err
	}

	if err := m.write(map[string]interface{}{"execute": "qmp_capabilities"}); err != nil {
		return nil, err
	}

	v, err := m.read()
	if err != nil {
		return nil, err
	}

	if !success(v) {
		return nil, fmt.Errorf("qmp_capabilities handshake failed")
	}

	go m.reader()

	return m, nil
}

func success(v map[string]interface{}) bool {
	ret, ok := v["return"]
	if !ok {
		return false
	}

	m, ok := ret.(map[string]interface{})
	return ok && len(m) == 0
}

func (m *monitor) read() (map[string]interface{}, error) {
	var v map[string]interface{}
	if err := m.dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}

func (m *monitor) write(v map[string]interface{}) error {
	return m.enc.Encode(&v)
}

func (m *monitor) reader() {
	for {
		v, err := m.read()
		if err != nil {
			close(m.sync)
			close(m.async)
			return
		}

		if v["event"] != nil {
			m.async <- v
		} else {
			m.sync <- v
		}
	}
}

// exec runs a command with no arguments and waits for its synchronous
// reply, returning an error unless it reports empty success.
func (m *monitor) exec(cmd string) error {
	return m.execArgs(cmd, nil)
}

func (m *monitor) execArgs(cmd string, args map[string]interface{}) error {
	req := map[string]interface{}{"execute": cmd}
	if args != nil {
		req["arguments"] = args
	}

	if err := m.write(req); err != nil {
		return fmt.Errorf("writing %s: %w", cmd, err)
	}

	v, ok := <-m.sync
	if !ok {
		return fmt.Errorf("monitor connection closed waiting for %s", cmd)
	}

	if !success(v) {
		return fmt.Errorf("%s: %v", cmd, v["return"])
	}

	return nil
}

// query runs a command and returns its raw "return" payload.
func (m *monitor) query(cmd string) (interface{}, error) {
	if err := m.write(map[string]interface{}{"execute": cmd}); err != nil {
		return nil, fmt.Errorf("writing %s: %w", cmd, err)
	}

	v, ok := <-m.sync
	if !ok {
		return nil, fmt.Errorf("monitor connection closed waiting for %s", cmd)
	}

	return v["return"], nil
}

func (m *monitor) close() error {
	return m.conn.Close()
}

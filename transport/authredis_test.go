package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

// authRedis speaks just enough RESP to answer AUTH, SELECT and PING, so
// connection options can be checked without a real server.
type authRedis struct {
	addr     string
	password string
	selected atomic.Int64
}

func newAuthRedis(t *testing.T, password string) *authRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	s := &authRedis{addr: ln.Addr().String(), password: password}
	s.selected.Store(-1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *authRedis) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := s.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		var reply string
		switch strings.ToUpper(args[0]) {
		case "AUTH":
			if len(args) == 2 && args[1] == s.password {
				authed = true
				reply = "+OK\r\n"
			} else {
				reply = "-WRONGPASS invalid password\r\n"
			}
		case "SELECT":
			if !authed {
				reply = "-NOAUTH Authentication required.\r\n"
				break
			}
			db, _ := strconv.Atoi(args[1])
			s.selected.Store(int64(db))
			reply = "+OK\r\n"
		case "PING":
			if !authed {
				reply = "-NOAUTH Authentication required.\r\n"
				break
			}
			reply = "+PONG\r\n"
		default:
			reply = fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, n)
	for i := range args {
		hdr, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(hdr, "$")))
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", hdr)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args[i] = string(buf[:size])
	}
	return args, nil
}

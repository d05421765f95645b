// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf/sigmap"
)

// server exposes a Core over a JSON request/reply TCP protocol.
type server struct {
	ctl  net.Listener
	msg  log.MsgStream
	core *Core
}

// Serve runs a JSON control server on addr, driving core, until ctx is
// done.
//
// Requests are JSON objects {"name": <command>, "args": <payload>};
// replies are {"msg": "ok"|<error>, "value": <result>}.
func Serve(ctx context.Context, addr string, core *Core) error {
	srv, err := newServer(addr, core)
	if err != nil {
		return fmt.Errorf("llrf: could not create control server: %w", err)
	}
	return srv.serve(ctx)
}

func newServer(addr string, core *Core) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %q: %w", addr, err)
	}
	return &server{ctl: ctl, msg: core.msg, core: core}, nil
}

func (srv *server) addr() string { return srv.ctl.Addr().String() }

func (srv *server) serve(ctx context.Context) error {
	defer srv.close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			srv.close()
		case <-done:
		}
	}()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("llrf: could not accept connection: %w", err)
		}
		go srv.handle(conn)
	}
}

// args is the payload of a control request. Unused fields are ignored.
type args struct {
	Name     string  `json:"name"`
	Cavity   string  `json:"cavity"`
	Value    float64 `json:"value"`
	Path     string  `json:"path"`
	Selector int     `json:"selector"`
	Source   string  `json:"source"`
	Reaction string  `json:"reaction"`
	Disable  bool    `json:"disable"`
}

func (srv *server) handle(conn net.Conn) {
	defer conn.Close()
	srv.msg.Infof("serving %v...", conn.RemoteAddr())
	defer srv.msg.Infof("serving %v... [done]", conn.RemoteAddr())

	dec := json.NewDecoder(conn)
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			srv.msg.Warnf("could not decode command request: %+v", err)
			srv.reply(conn, nil, err)
			return
		}
		srv.msg.Debugf("received request: name=%q", req.Name)

		var arg args
		if req.Args != nil {
			err = json.Unmarshal(*req.Args, &arg)
			if err != nil {
				srv.msg.Warnf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, nil, err)
				continue
			}
		}

		v, err := srv.exec(strings.ToLower(req.Name), arg)
		if err != nil {
			srv.msg.Warnf("could not run %q: %+v", req.Name, err)
		}
		srv.reply(conn, v, err)
	}
}

func (srv *server) exec(name string, arg args) (interface{}, error) {
	var cav Cavity
	switch name {
	case "names", "fdl", "fdl-reset", "fdl-state", "selector":
	default:
		var err error
		cav, err = ParseCavity(arg.Cavity)
		if err != nil {
			return nil, err
		}
	}

	core := srv.core
	switch name {
	case "read":
		v, err := core.Read(arg.Name, cav)
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	case "write":
		return nil, core.Write(arg.Name, cav, arg.Value)
	case "snapshot":
		return core.Snapshot(cav)
	case "fdl":
		return nil, core.RunFDL(arg.Path)
	case "fdl-reset":
		return nil, core.ResetFDL()
	case "fdl-state":
		return core.FDLState().String(), nil
	case "reset-tuning":
		return nil, core.ResetTuning(cav)
	case "reset-interlocks":
		return nil, core.ResetInterlocks(cav)
	case "reset-manual-interlock":
		return nil, core.ResetManualInterlock(cav)
	case "selector":
		return nil, core.SetInterlockSelector(arg.Selector)
	case "get-disable", "set-disable":
		src, err := sigmap.ParseSource(arg.Source)
		if err != nil {
			return nil, err
		}
		r, err := sigmap.ParseReaction(arg.Reaction)
		if err != nil {
			return nil, err
		}
		if name == "get-disable" {
			return core.GetDisable(cav, src, r)
		}
		return nil, core.SetDisable(cav, src, r, arg.Disable)
	case "update-interlocks":
		return nil, core.UpdateAll(cav)
	case "names":
		return core.Map().Names(), nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func (srv *server) reply(conn net.Conn, v interface{}, err error) {
	rep := struct {
		Msg   string      `json:"msg"`
		Value interface{} `json:"value,omitempty"`
	}{Msg: "ok", Value: v}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
		rep.Value = nil
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}

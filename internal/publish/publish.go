// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package publish exports diagnostic snapshots to a redis server.
//
// Each snapshot of cavity <cav> is stored in the hash llrf:<cav>:diag,
// its acquisition time in llrf:<cav>:stamp, and the time is published
// on the channel llrf:<cav>.
package publish // import "github.com/go-lpc/llrf/internal/publish"

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/go-lpc/llrf"
)

// Timeout is the read/write timeout of connections opened by Dial.
var Timeout = 5 * time.Second

// Publisher writes snapshots to redis.
type Publisher struct {
	mu   sync.Mutex
	conn redis.Conn
}

// Dial connects to the redis server at addr.
func Dial(addr string) (*Publisher, error) {
	conn, err := redis.Dial(
		"tcp", addr,
		redis.DialConnectTimeout(Timeout),
		redis.DialReadTimeout(Timeout),
		redis.DialWriteTimeout(Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: could not dial redis %q: %w", addr, err)
	}
	return New(conn), nil
}

// New returns a publisher writing to conn.
func New(conn redis.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Key returns the name of the redis hash holding the diagnostics of cav.
func Key(cav llrf.Cavity) string {
	return "llrf:" + cav.String() + ":diag"
}

// Publish stores snap in redis, pipelined in a single round-trip.
func (pub *Publisher) Publish(snap llrf.Snapshot) error {
	if len(snap.Values) == 0 {
		return nil
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()

	names := make([]string, 0, len(snap.Values))
	for k := range snap.Values {
		names = append(names, k)
	}
	sort.Strings(names)

	var (
		key   = Key(snap.Cavity)
		stamp = snap.End.UTC().Format(time.RFC3339Nano)
		args  = redis.Args{}.Add(key)
	)
	for _, k := range names {
		args = args.Add(k, snap.Values[k])
	}

	for _, cmd := range []struct {
		name string
		args []interface{}
	}{
		{"HMSET", args},
		{"SET", redis.Args{}.Add("llrf:"+snap.Cavity.String()+":stamp", stamp)},
		{"PUBLISH", redis.Args{}.Add("llrf:"+snap.Cavity.String(), stamp)},
	} {
		err := pub.conn.Send(cmd.name, cmd.args...)
		if err != nil {
			return fmt.Errorf("publish: could not send %s: %w", cmd.name, err)
		}
	}

	_, err := pub.conn.Do("")
	if err != nil {
		return fmt.Errorf("publish: could not publish snapshot of cavity %v: %w", snap.Cavity, err)
	}
	return nil
}

// Values returns the diagnostics of cav last stored in redis.
func (pub *Publisher) Values(cav llrf.Cavity) (map[string]float64, error) {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	raw, err := redis.StringMap(pub.conn.Do("HGETALL", Key(cav)))
	if err != nil {
		return nil, fmt.Errorf("publish: could not retrieve diagnostics of cavity %v: %w", cav, err)
	}
	o := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("publish: invalid value for %q: %w", k, err)
		}
		o[k] = f
	}
	return o, nil
}

// Close closes the connection to redis.
func (pub *Publisher) Close() error {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.conn.Close()
}

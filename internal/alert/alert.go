// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts when fast interlocks trip.
package alert // import "github.com/go-lpc/llrf/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/sigmap"
	mail "gopkg.in/gomail.v2"
)

// DefaultMaxAlerts is the default number of mails sent per interlock
// source.
const DefaultMaxAlerts = 10

// Config describes the mail server and the recipients of alerts.
type Config struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   []string

	MaxAlerts int // mails sent per interlock source; 0 for DefaultMaxAlerts
}

// Alerter watches diagnostic snapshots and sends a mail for every
// interlock source that newly trips.
type Alerter struct {
	mu  sync.Mutex
	cfg Config
	snd mail.Sender

	tripped [2]map[sigmap.Source]bool
	alerts  map[sigmap.Source]int
}

// New returns an alerter sending mails through the server described by
// cfg.
func New(cfg Config) (*Alerter, error) {
	if cfg.Host == "" || cfg.Port == 0 || len(cfg.To) == 0 {
		return nil, fmt.Errorf("alert: missing mail server or recipients")
	}

	dial := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	dial.TLSConfig = &tls.Config{
		ServerName: cfg.Host,
	}
	snd := mail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		s, err := dial.Dial()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Send(from, to, msg)
	})
	return newAlerter(cfg, snd), nil
}

func newAlerter(cfg Config, snd mail.Sender) *Alerter {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = DefaultMaxAlerts
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Alerter{
		cfg: cfg,
		snd: snd,
		tripped: [2]map[sigmap.Source]bool{
			make(map[sigmap.Source]bool),
			make(map[sigmap.Source]bool),
		},
		alerts: make(map[sigmap.Source]int),
	}
}

// Check compares the interlock inputs of snap with the ones of the
// previous snapshot of the same cavity and sends a mail for each
// source that tripped in between.
// At most MaxAlerts mails are sent per source.
// Sources whose mail could not be sent are reported again by the next
// Check that still sees them tripped.
func (a *Alerter) Check(snap llrf.Snapshot) error {
	if snap.Cavity < 0 || int(snap.Cavity) >= len(a.tripped) {
		return fmt.Errorf("alert: invalid cavity %v", snap.Cavity)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		prev = a.tripped[snap.Cavity]
		cur  = make(map[sigmap.Source]bool)
		news []sigmap.Source
	)
	for _, src := range llrf.Tripped(snap.Values) {
		cur[src] = true
		if prev[src] || a.alerts[src] >= a.cfg.MaxAlerts {
			continue
		}
		news = append(news, src)
	}

	var err error
	if len(news) > 0 {
		err = a.send(snap, news)
	}
	for _, src := range news {
		if err != nil {
			delete(cur, src)
			continue
		}
		a.alerts[src]++
	}
	a.tripped[snap.Cavity] = cur
	return err
}

func (a *Alerter) send(snap llrf.Snapshot, srcs []sigmap.Source) error {
	names := make([]string, len(srcs))
	for i, src := range srcs {
		names[i] = src.String()
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", a.cfg.From)
	msg.SetHeader("Bcc", a.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf(
		"[llrf] cavity %v: interlock tripped: %s",
		snap.Cavity, strings.Join(names, ", "),
	))
	msg.SetBody("text/plain", body(snap, names))

	err := mail.Send(a.snd, msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return nil
}

func body(snap llrf.Snapshot, names []string) string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "cavity:  %v\n", snap.Cavity)
	fmt.Fprintf(o, "time:    %v\n", snap.End.UTC())
	fmt.Fprintf(o, "tripped: %s\n\n", strings.Join(names, ", "))

	keys := make([]string, 0, len(snap.Values))
	for k := range snap.Values {
		if strings.HasPrefix(k, "Diag_Itck") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(o, "%-24s %v\n", k, snap.Values[k])
	}
	return o.String()
}

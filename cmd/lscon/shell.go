package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"lscon-go/connector"
)

var errQuit = errors.New("quit")

const usage = `commands:
  supported               list registered drivers
  inject <name>           create a device bound by driver name
  eject <name>            destroy a device
  devices                 list live devices
  leases                  list held signal lines
  read <attr>             read a control file
  write <attr> <value>    write a control file
  metrics                 dump counters and gauges
  quit
`

type shell struct {
	conn     *connector.Connector
	gatherer prometheus.Gatherer // nil when telemetry is off
	out      io.Writer
}

// serve runs commands from in until EOF, quit or ctx ends.
func (s *shell) serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.exec(line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

func (s *shell) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, usage)
	case "supported":
		return s.read("supported")
	case "inject", "eject":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <name>", cmd)
		}
		return s.conn.WriteAttr(cmd, args[0])
	case "devices":
		s.devices()
	case "leases":
		s.leases()
	case "read":
		if len(args) != 1 {
			return errors.New("usage: read <attr>")
		}
		return s.read(args[0])
	case "write":
		if len(args) != 2 {
			return errors.New("usage: write <attr> <value>")
		}
		return s.conn.WriteAttr(args[0], args[1])
	case "metrics":
		return s.metrics()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (s *shell) read(attr string) error {
	v, err := s.conn.ReadAttr(attr)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, v)
	return nil
}

func (s *shell) devices() {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDRIVER\tORIGIN")
	for _, d := range s.conn.Devices() {
		origin := "declared"
		if d.Injected {
			origin = "injected"
		}
		drv := d.Driver
		if drv == "" {
			drv = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Name, drv, origin)
	}
	tw.Flush()
}

func (s *shell) leases() {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tDEVICE\tCONSUMER")
	for _, l := range s.conn.Leases() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Line, l.Device, l.Consumer)
	}
	tw.Flush()
}

func (s *shell) metrics() error {
	if s.gatherer == nil {
		return errors.New("telemetry is disabled")
	}
	families, err := s.gatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(s.out, "%s%s %g\n", mf.GetName(), labels(m), value(mf.GetType(), m))
		}
	}
	return nil
}

func labels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	}
	return 0
}

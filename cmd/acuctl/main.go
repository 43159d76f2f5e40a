// Command acuctl sends single commands to an ACU and prints the answers.
//
// Usage:
//
//	acuctl [flags] mode <subsystem> <mode> [p1 [p2]]
//	acuctl [flags] param <subsystem> <parameter> [p1 [p2]]
//	acuctl [flags] track <load_mode> <start_delay> <table_file>
//	acuctl [flags] status
//	acuctl [flags] discover
//
// A table file has one "relative_ms azimuth elevation" point per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/client"
	"github.com/w1xm/acusim/internal/mdns"
	"github.com/w1xm/acusim/protocol"
)

var (
	addr       = flag.String("addr", "127.0.0.1:9000", "ACU command address")
	statusAddr = flag.String("status", "127.0.0.1:9001", "ACU status address")
	motors     = flag.String("motors", "8,4,1", "motor count of azimuth, elevation and cable wrap")
	timeout    = flag.Duration("timeout", 30*time.Second, "how long to wait for the command to finish")
	wait       = flag.Bool("wait", true, "wait for the executed answer")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}
	counts, err := parseMotors(*motors)
	if err != nil {
		return err
	}
	switch args[0] {
	case "discover":
		hosts, err := mdns.Discover(ctx, 3*time.Second)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			fmt.Printf("%s\tcommand %s\tstatus %s\n", h.Instance, h.CommandAddr(), h.StatusAddr())
		}
		return nil
	case "status":
		return printStatus(ctx, counts)
	}

	sub, counter, err := send(ctx, args)
	if err != nil {
		return err
	}
	fmt.Printf("sent %s command %d to %v\n", args[0], counter, sub)
	if !*wait {
		return nil
	}
	answer, err := client.Await(ctx, *statusAddr, counts, sub, counter)
	if err != nil {
		return err
	}
	fmt.Printf("answer: %v\n", answer)
	if answer != protocol.AnswerDone {
		return fmt.Errorf("command %d failed: %v", counter, answer)
	}
	return nil
}

func send(ctx context.Context, args []string) (protocol.Subsystem, uint32, error) {
	c, err := client.Dial(ctx, *addr)
	if err != nil {
		return 0, 0, err
	}
	defer c.Close()

	switch args[0] {
	case "mode", "param":
		if len(args) < 3 || len(args) > 5 {
			return 0, 0, fmt.Errorf("usage: %s <subsystem> <id> [p1 [p2]]", args[0])
		}
		sub, err := parseSubsystem(args[1])
		if err != nil {
			return 0, 0, err
		}
		id, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			return 0, 0, err
		}
		var p [2]float64
		for i, a := range args[3:] {
			if p[i], err = strconv.ParseFloat(a, 64); err != nil {
				return 0, 0, err
			}
		}
		var counter uint32
		if args[0] == "mode" {
			counter, err = c.Mode(sub, uint16(id), p[0], p[1])
		} else {
			counter, err = c.Parameter(sub, uint16(id), p[0], p[1])
		}
		return sub, counter, err
	case "track":
		if len(args) != 4 {
			return 0, 0, fmt.Errorf("usage: track <load_mode> <start_delay> <table_file>")
		}
		loadMode, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return 0, 0, err
		}
		delay, err := time.ParseDuration(args[2])
		if err != nil {
			return 0, 0, err
		}
		seq, err := readTable(args[3])
		if err != nil {
			return 0, 0, err
		}
		counter, err := c.LoadTable(uint16(loadMode), time.Now().Add(delay), seq)
		return protocol.Tracking, counter, err
	}
	return 0, 0, fmt.Errorf("unknown command %q", args[0])
}

func parseSubsystem(s string) (protocol.Subsystem, error) {
	for _, sub := range []protocol.Subsystem{protocol.Azimuth, protocol.Elevation, protocol.Tracking} {
		if s == sub.String() || s == sub.String()[:2] {
			return sub, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown subsystem %q", s)
	}
	return protocol.Subsystem(n), nil
}

func parseMotors(s string) ([3]int, error) {
	var counts [3]int
	parts := strings.Split(s, ",")
	if len(parts) != len(counts) {
		return counts, fmt.Errorf("-motors needs %d counts, got %q", len(counts), s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return counts, fmt.Errorf("-motors: %w", err)
		}
		counts[i] = n
	}
	return counts, nil
}

func readTable(path string) ([]protocol.TrackPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var seq []protocol.TrackPoint
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: want 3 fields, got %d", path, line, len(fields))
		}
		ms, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		p := protocol.TrackPoint{RelativeTime: int32(ms)}
		if p.Azimuth, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if p.Elevation, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		seq = append(seq, p)
	}
	return seq, scanner.Err()
}

func printStatus(ctx context.Context, counts [3]int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var got *acu.Telegram
	if err := client.Watch(ctx, *statusAddr, counts, func(t *acu.Telegram) {
		got = t
		cancel()
	}); err != nil {
		return err
	}
	if got == nil {
		return ctx.Err()
	}
	data, err := json.MarshalIndent(got, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

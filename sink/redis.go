package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

// Redis keeps one hash per axis plus one for the trajectory generator, and
// publishes the full decoded telegram as JSON on a channel.
type Redis struct {
	redis   *redis.Client
	prefix  string
	channel string
}

// NewRedis connects to the server at addr and checks that it answers.
func NewRedis(ctx context.Context, addr string, db int, prefix, channel string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(connectCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %v", addr, err)
	}
	return &Redis{redis: client, prefix: prefix, channel: channel}, nil
}

func (s *Redis) Write(ctx context.Context, t *acu.Telegram) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	pipe := s.redis.Pipeline()
	for key, fields := range hashes(s.prefix, t) {
		pipe.HSet(ctx, key, fields)
	}
	if s.channel != "" {
		pipe.Publish(ctx, s.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to send status: %v", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.redis.Close()
}

var axisKeys = [...]protocol.Subsystem{
	acu.AzimuthAxis:   protocol.Azimuth,
	acu.ElevationAxis: protocol.Elevation,
	acu.CableWrapAxis: protocol.CableWrap,
}

// hashes returns the summary hashes for t keyed by their redis key.
func hashes(prefix string, t *acu.Telegram) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for i, a := range t.Axes {
		var errs, warnings []string
		for c, set := range a.Conditions {
			switch {
			case !set:
			case axis.Condition(c).IsError():
				errs = append(errs, axis.Condition(c).String())
			default:
				warnings = append(warnings, axis.Condition(c).String())
			}
		}
		out[prefix+":"+axisKeys[i].String()] = map[string]interface{}{
			"state":      a.State.String(),
			"trajectory": a.Trajectory.String(),
			"position":   a.Degrees(),
			"velocity":   a.Velocity(),
			"target":     float64(a.PSoll) / 1e6,
			"offset":     float64(a.POffset) / 1e6,
			"stowed":     map[bool]string{true: "on", false: "off"}[a.Stowed],
			"errors":     strings.Join(errs, ","),
			"warnings":   strings.Join(warnings, ","),
			"received":   fmt.Sprintf("%d:%d:%v", a.Received.Counter, a.Received.ID, a.Received.Answer),
			"executed":   fmt.Sprintf("%d:%d:%v", a.Executed.Counter, a.Executed.ID, a.Executed.Answer),
		}
	}
	p := t.Pointing
	out[prefix+":"+protocol.Tracking.String()] = map[string]interface{}{
		"state":     p.State.String(),
		"length":    p.TableLength,
		"remaining": p.Remaining,
		"elapsed":   p.Elapsed,
		"azimuth":   float64(p.Azimuth.Position) / 1e6,
		"elevation": float64(p.Elevation.Position) / 1e6,
		"received":  fmt.Sprintf("%d:%d:%v", p.Received.Counter, p.Received.ID, p.Received.Answer),
		"executed":  fmt.Sprintf("%d:%d:%v", p.Executed.Counter, p.Executed.ID, p.Executed.Answer),
	}
	return out
}

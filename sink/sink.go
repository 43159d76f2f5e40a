// Package sink forwards status snapshots of a System to external stores.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/w1xm/acusim/acu"
)

// Sink stores decoded status telegrams.
type Sink interface {
	Write(ctx context.Context, t *acu.Telegram) error
	Close() error
}

// Run writes the latest snapshot of sys to every sink at most once per
// interval until ctx is canceled. Write errors are logged and do not stop
// the loop.
func Run(ctx context.Context, sys *acu.System, interval time.Duration, sinks ...Sink) error {
	if len(sinks) == 0 {
		return nil
	}
	updates := make(chan struct{}, 1)
	unsubscribe := sys.Subscribe(func([]byte) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
		}
		if now := time.Now(); now.Sub(last) >= interval {
			last = now
			t := sys.Status()
			for _, s := range sinks {
				if err := s.Write(ctx, t); err != nil {
					log.Printf("sink %T: %v", s, err)
				}
			}
		}
	}
}

// Flatten converts t into dotted field names and scalar values, such as
// "Axes.0.PIst" or "Axes.1.Conditions.pre_limit_up".
func Flatten(t *acu.Telegram) (map[string]interface{}, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var status interface{}
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	return fields, nil
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

package sink

import (
	"context"
	"log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/pointing"
)

// Influx writes every telegram as one point of flattened fields.
type Influx struct {
	client      influxdb2.Client
	writeApi    api.WriteApi
	measurement string
	tags        map[string]string
}

// NewInflux returns a sink writing to bucket on the server at url. Writes
// are batched and sent in the background.
func NewInflux(url, token, org, bucket, measurement string, tags map[string]string) *Influx {
	client := influxdb2.NewClient(url, token)
	writeApi := client.WriteApi(org, bucket)
	// Create go proc for reading and logging errors
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("influx write error: %v", err)
		}
	}()
	return &Influx{
		client:      client,
		writeApi:    writeApi,
		measurement: measurement,
		tags:        tags,
	}
}

func (s *Influx) Write(_ context.Context, t *acu.Telegram) error {
	fields, err := Flatten(t)
	if err != nil {
		return err
	}
	p := influxdb2.NewPoint(s.measurement,
		s.tags,
		fields,
		pointing.Time(t.General.ActualTime),
	)
	// write asynchronously
	s.writeApi.WritePoint(p)
	return nil
}

// Close flushes pending points.
func (s *Influx) Close() error {
	s.writeApi.Close()
	s.client.Close()
	return nil
}

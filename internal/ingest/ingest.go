// Package ingest reads packet envelopes from files and Kafka and feeds them
// to the pipeline as decoded DataPackets.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Source produces packets until ctx is done or the input is exhausted.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- models.DataPacket) error
}

// envelope is the wire shape of a packet. Payload is decoded generically.
type envelope struct {
	ID        string    `json:"id" yaml:"id"`
	DomainID  string    `json:"domain_id" yaml:"domain_id"`
	DataType  string    `json:"data_type" yaml:"data_type"`
	SourceID  string    `json:"source_id" yaml:"source_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Payload   any       `json:"payload" yaml:"payload"`
}

// Decoder turns envelopes into packets, filling in missing ids and
// ingestion timestamps.
type Decoder struct {
	Now   func() time.Time
	NewID func() string
}

func (d Decoder) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d Decoder) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// DecodeJSON decodes one JSON envelope.
func (d Decoder) DecodeJSON(data []byte) (models.DataPacket, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return models.DataPacket{}, fmt.Errorf("decode envelope: %w", err)
	}
	return d.packet(env)
}

func (d Decoder) packet(env envelope) (models.DataPacket, error) {
	env.DomainID = strings.TrimSpace(env.DomainID)
	env.DataType = strings.TrimSpace(env.DataType)
	if env.DomainID == "" {
		return models.DataPacket{}, fmt.Errorf("envelope missing domain_id")
	}
	if env.DataType == "" {
		return models.DataPacket{}, fmt.Errorf("envelope missing data_type")
	}
	if env.ID == "" {
		env.ID = d.newID()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = d.now()
	}
	return models.DataPacket{
		ID:        env.ID,
		DomainID:  env.DomainID,
		DataType:  env.DataType,
		SourceID:  env.SourceID,
		Timestamp: env.Timestamp.UTC(),
		Payload:   env.Payload,
	}, nil
}

// send delivers a packet or gives up when ctx is done.
func send(ctx context.Context, out chan<- models.DataPacket, p models.DataPacket) bool {
	select {
	case out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// BackoffSleep waits d or until ctx is done. It reports whether the wait
// completed.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

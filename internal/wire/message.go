package wire

import (
	"time"

	"codeberg.org/mutker/eegstreamd/internal/config"
	"codeberg.org/mutker/eegstreamd/internal/features"
)

const MaxDatagramSize = config.MaxDatagramSize

// Type is the "type" tag carried by every message.
type Type string

const (
	TypeEEGData            Type = "eeg_data"
	TypeEEGFeatures        Type = "eeg_features"
	TypeEEGChunk           Type = "eeg_chunk"
	TypeTransmissionHeader Type = "transmission_header"
	TypeStatus             Type = "status"

	// inbound control
	TypePing           Type = "ping"
	TypeGetStatus      Type = "get_status"
	TypeRequestData    Type = "request_data"
	TypeConnectionTest Type = "connection_test"
)

// Message is implemented only by the message structs of this package.
type Message interface {
	MessageType() Type
	isMessage()
}

// Envelope holds the fields common to every message.
type Envelope struct {
	Type      Type    `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func (e Envelope) MessageType() Type { return e.Type }

func envelope(t Type) Envelope {
	return Envelope{Type: t, Timestamp: Timestamp(time.Now())}
}

// Timestamp converts t to float seconds since the epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Metadata describes the batch a data message belongs to.
type Metadata struct {
	ProcessingTimestamp float64 `json:"processing_timestamp,omitempty"`
	SampleCount         int     `json:"sample_count,omitempty"`
	ChannelCount        int     `json:"channel_count,omitempty"`
	SessionID           string  `json:"session_id,omitempty"`
	Sequence            uint64  `json:"sequence,omitempty"`
	Note                string  `json:"note,omitempty"`
}

type EEGData struct {
	Envelope
	EEGData      [][]float64   `json:"eeg_data"`
	SampleCount  int           `json:"sample_count"`
	ChannelCount int           `json:"channel_count"`
	Features     *features.Set `json:"features,omitempty"`
	Metadata     *Metadata     `json:"metadata,omitempty"`
}

func NewEEGData(rows [][]float64, set *features.Set, meta *Metadata) *EEGData {
	m := &EEGData{
		Envelope:    envelope(TypeEEGData),
		EEGData:     rows,
		SampleCount: len(rows),
		Features:    set,
		Metadata:    meta,
	}
	if len(rows) > 0 {
		m.ChannelCount = len(rows[0])
	}

	return m
}

// Truncate keeps only the last n rows.
func (m *EEGData) Truncate(n int) {
	if n >= len(m.EEGData) {
		return
	}
	m.EEGData = m.EEGData[len(m.EEGData)-n:]
	m.SampleCount = len(m.EEGData)
}

type EEGFeatures struct {
	Envelope
	Features *features.Set `json:"features"`
	Metadata *Metadata     `json:"metadata,omitempty"`
}

func NewEEGFeatures(set *features.Set, meta *Metadata) *EEGFeatures {
	return &EEGFeatures{Envelope: envelope(TypeEEGFeatures), Features: set, Metadata: meta}
}

// EEGChunk carries rows [StartSample, EndSample) of a batch of TotalSamples.
type EEGChunk struct {
	Envelope
	StartSample  int           `json:"start_sample"`
	EndSample    int           `json:"end_sample"`
	TotalSamples int           `json:"total_samples"`
	EEGData      [][]float64   `json:"eeg_data"`
	Features     *features.Set `json:"features,omitempty"`
}

type TransmissionHeader struct {
	Envelope
	TotalSamples int       `json:"total_samples"`
	Channels     int       `json:"channels"`
	HasFeatures  bool      `json:"has_features"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

type Status struct {
	Envelope
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewStatus(status, message string) *Status {
	return &Status{Envelope: envelope(TypeStatus), Status: status, Message: message}
}

// Control is an inbound request with no body: ping, get_status,
// request_data, or the connection_test probe.
type Control struct {
	Envelope
}

func NewControl(t Type) *Control {
	return &Control{Envelope: envelope(t)}
}

func (*EEGData) isMessage()            {}
func (*EEGFeatures) isMessage()        {}
func (*EEGChunk) isMessage()           {}
func (*TransmissionHeader) isMessage() {}
func (*Status) isMessage()             {}
func (*Control) isMessage()            {}

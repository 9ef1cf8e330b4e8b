package network

import (
	"fmt"
	"time"
)

// Settings are the agent network parameters shared by all adapters.
type Settings struct {
	// TTL bounds the number of hops a negotiation message travels.
	TTL int `json:"ttl"`
	// PatienceSeconds is the default participant patience.
	PatienceSeconds float64 `json:"time_to_sleep"`
	// SendMessagePaths counts reply paths rather than single replies.
	SendMessagePaths *bool `json:"send_message_paths"`
	// RequestWaitSeconds batches incoming requests before they are served.
	RequestWaitSeconds float64 `json:"request_processing_waiting_time"`
	// ReplyWaitSeconds delays replies to model processing time.
	ReplyWaitSeconds float64 `json:"reply_processing_waiting_time"`
	// UseProducerReputation weights producer offers by reputation.
	UseProducerReputation *bool `json:"use_producer_ethics_score"`
	// UseConsumerReputation serves consumer requests by descending reputation.
	UseConsumerReputation *bool `json:"use_consumer_ethics_score"`
}

// SetDefaults applies the defaults of the agent network.
func (s *Settings) SetDefaults() {
	if s.TTL == 0 {
		s.TTL = 80
	}
	if s.PatienceSeconds == 0 {
		s.PatienceSeconds = 10
	}
	if s.RequestWaitSeconds == 0 {
		s.RequestWaitSeconds = 0.4
	}
	if s.ReplyWaitSeconds == 0 {
		s.ReplyWaitSeconds = 0.4
	}
	if s.SendMessagePaths == nil {
		s.SendMessagePaths = boolPtr(true)
	}
	if s.UseProducerReputation == nil {
		s.UseProducerReputation = boolPtr(true)
	}
	if s.UseConsumerReputation == nil {
		s.UseConsumerReputation = boolPtr(true)
	}
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	if s.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	if s.PatienceSeconds < 0 || s.RequestWaitSeconds < 0 || s.ReplyWaitSeconds < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (s Settings) Patience() time.Duration    { return seconds(s.PatienceSeconds) }
func (s Settings) RequestWait() time.Duration { return seconds(s.RequestWaitSeconds) }
func (s Settings) ReplyWait() time.Duration   { return seconds(s.ReplyWaitSeconds) }
func (s Settings) MessagePaths() bool         { return s.SendMessagePaths == nil || *s.SendMessagePaths }
func (s Settings) ProducerReputation() bool {
	return s.UseProducerReputation == nil || *s.UseProducerReputation
}
func (s Settings) ConsumerReputation() bool {
	return s.UseConsumerReputation == nil || *s.UseConsumerReputation
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func boolPtr(b bool) *bool { return &b }

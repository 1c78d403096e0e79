package domain

import "time"

// CallbackConfig is one registered consumer endpoint for a message type.
type CallbackConfig struct {
	// Key identifies the consumer; tickets and status records carry it.
	Key       string `json:"key"`
	URL       string `json:"url"`
	SecretKey string `json:"secret_key,omitempty"`
	Enable    bool   `json:"enable"`
	// RateLimitPerSecond of 0 means unlimited.
	RateLimitPerSecond int `json:"rate_limit_per_second"`
}

// MessageConfig declares one message type of an application together with
// its consumers, in the order they must be scanned.
type MessageConfig struct {
	Code                string `json:"code"`
	Enable              bool   `json:"enable"`
	NeedCheckCompensate bool   `json:"need_check_compensate"`
	// CheckCompensateDelay is the grace period a message gets before the
	// sweep treats missing delivery evidence as a gap.
	CheckCompensateDelay time.Duration `json:"check_compensate_delay"`
	// CheckCompensateTimeSpan is how far past the delay the sweep looks back.
	CheckCompensateTimeSpan time.Duration `json:"check_compensate_time_span"`
	// SecondCompensateSpan is the fast-path retry delay after a failed live
	// dispatch.
	SecondCompensateSpan time.Duration    `json:"second_compensate_span"`
	Callbacks            []CallbackConfig `json:"callbacks"`
}

// Callback returns the callback with the given consumer key, or nil.
func (c *MessageConfig) Callback(consumerID string) *CallbackConfig {
	for i := range c.Callbacks {
		if c.Callbacks[i].Key == consumerID {
			return &c.Callbacks[i]
		}
	}
	return nil
}

// AppConfig is the configuration root for one publishing application.
type AppConfig struct {
	AppID string `json:"app_id"`
	// DispatchGroup routes the app's messages; an app without one is not
	// served by this engine.
	DispatchGroup  string          `json:"dispatch_group"`
	MessageConfigs []MessageConfig `json:"message_configs"`
}

// MessageConfig returns the config for the given message type code, or nil.
func (a *AppConfig) MessageConfig(code string) *MessageConfig {
	for i := range a.MessageConfigs {
		if a.MessageConfigs[i].Code == code {
			return &a.MessageConfigs[i]
		}
	}
	return nil
}

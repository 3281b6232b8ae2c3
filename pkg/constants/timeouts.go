package constants

import "time"

// Safety monitor defaults
const (
	// DefaultMaxCallDurationSeconds - Hard ceiling on a single call
	DefaultMaxCallDurationSeconds = 600

	// DefaultInactivityTimeoutSeconds - Caller silence that ends the call
	DefaultInactivityTimeoutSeconds = 30

	// DefaultSafetyPollIntervalSeconds - How often the monitor checks its limits
	DefaultSafetyPollIntervalSeconds = 5

	// DefaultFarewellTimeoutSeconds - Upper bound on waiting for the farewell line
	DefaultFarewellTimeoutSeconds = 10
)

// Speech and delivery defaults
const (
	// DefaultReplyTimeoutSeconds - Upper bound on waiting for any canned reply
	DefaultReplyTimeoutSeconds = 15

	// DefaultWebhookTimeoutSeconds - Single webhook attempt timeout
	DefaultWebhookTimeoutSeconds = 30

	// DefaultTeardownFallbackTimeoutSeconds - Timeout for the fallback room deletion
	DefaultTeardownFallbackTimeoutSeconds = 5

	// DefaultRingingTimeoutSeconds - Outbound dial ringing limit
	DefaultRingingTimeoutSeconds = 30

	// DefaultMaxHandoffs - Handoff bound when the workflow document omits it
	DefaultMaxHandoffs = 5
)

// Registry defaults
const (
	// DefaultRegistryCleanupIntervalSeconds - Interval between stale call sweeps
	DefaultRegistryCleanupIntervalSeconds = 300

	// DefaultRegistryMaxAgeSeconds - Entries older than this are considered stale
	DefaultRegistryMaxAgeSeconds = 3600

	// DefaultLeaderElectionTTLSeconds - Lease held by the pod that runs the sweeps
	DefaultLeaderElectionTTLSeconds = 10
)

// Redis key names
const (
	ActiveCallsKey = "voice:active_calls"
	CallPhasesKey  = "voice:call_phases"
	LeaderKey      = "voice:registry_leader"
)

// Configuration environment variable names
const (
	EnvWorkflowConfig     = "WORKFLOW_CONFIG"
	EnvWebhookURL         = "WEBHOOK_URL"
	EnvSIPOutboundTrunkID = "SIP_OUTBOUND_TRUNK_ID"
	EnvLiveKitURL         = "LIVEKIT_URL"
	EnvLiveKitAPIKey      = "LIVEKIT_API_KEY"
	EnvLiveKitAPISecret   = "LIVEKIT_API_SECRET"
	EnvRealtimeURL        = "REALTIME_URL"
	EnvRealtimeAPIKey     = "OPENAI_API_KEY"
)

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// DurationOrDefault returns seconds as a duration, or the fallback when seconds is not positive
func DurationOrDefault(seconds int, fallbackSeconds int) time.Duration {
	if seconds <= 0 {
		return SecondsToDuration(fallbackSeconds)
	}
	return SecondsToDuration(seconds)
}

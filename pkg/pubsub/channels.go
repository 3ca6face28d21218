package pubsub

import "fmt"

// ChannelBroadcast carries room fan-out envelopes between instances.
// The prefix matches the Redis key prefix so one deployment's traffic
// stays isolated from another's on a shared broker.
const ChannelBroadcast = "%s:broadcast"

// BroadcastChannel returns the fan-out channel name for a key prefix.
func BroadcastChannel(prefix string) string {
	return fmt.Sprintf(ChannelBroadcast, prefix)
}

package transport

// Metric family names shared by all transport implementations.
const (
	MetricMessagesTotal = "transport_msgs_total"  // {topic,direction,result}
	MetricBytesTotal    = "transport_bytes_total" // {topic,direction}
	MetricRelayClients  = "relay_clients"         // gauge, relay hub side
)

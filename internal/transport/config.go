package transport

// Transport modes selectable via configuration.
const (
	ModeNone  = "none"
	ModeRelay = "relay"
	ModeP2P   = "p2p"
)

// NetConfig carries runtime options for the node transport.
type NetConfig struct {
	Mode      string   `json:"mode" mapstructure:"mode"`           // "none", "relay" or "p2p"
	RelayURL  string   `json:"relay_url" mapstructure:"relay_url"` // websocket relay endpoint ('relay' mode)
	Listen    []string `json:"listen" mapstructure:"listen"`       // multiaddrs to listen on ('p2p' mode); empty => libp2p default
	Bootnodes []string `json:"bootnodes" mapstructure:"bootnodes"` // multiaddrs to dial on start ('p2p' mode)
	NAT       bool     `json:"nat" mapstructure:"nat"`             // enable NAT port mapping if available ('p2p' mode)
}

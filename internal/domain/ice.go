package domain

// ICEServer holds STUN server configuration. TURN entries are accepted but no
// relay servers are configured by default, so two peers behind symmetric NAT
// cannot reach each other.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// DefaultSTUNServers is the fixed STUN list used when none is configured.
func DefaultSTUNServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

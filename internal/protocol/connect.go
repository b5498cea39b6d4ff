package protocol

// ConnectParams is sent as the "connect" handshake request.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Auth        ConnectAuth `json:"auth"`
}

// ClientInfo identifies the connecting client to the gateway.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// ConnectAuth carries the bearer token for the handshake.
type ConnectAuth struct {
	Token string `json:"token"`
}

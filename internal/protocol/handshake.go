package protocol

const (
	// EventChallenge is sent by the server as soon as the socket opens.
	EventChallenge = "connect.challenge"
	// MethodConnect is the first request a client sends.
	MethodConnect = "connect"
)

// Challenge is the payload of the connect.challenge event.
type Challenge struct {
	Nonce string `json:"nonce"`
	Ts    int64  `json:"ts"`
}

// ConnectParams are sent with the connect request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
}

// ClientInfo identifies the connecting dashboard.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// ConnectAuth carries the dashboard token or the shared password.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the connect response payload.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Events   []string     `json:"events"`
	Policy   ServerPolicy `json:"policy"`
}

// ServerInfo identifies the signaling server and this connection.
type ServerInfo struct {
	Version  string `json:"version"`
	Provider string `json:"provider"`
	ConnID   string `json:"connId"`
}

// ServerPolicy communicates limits to the client.
type ServerPolicy struct {
	MaxPayload          int `json:"maxPayload"`
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs"`
}

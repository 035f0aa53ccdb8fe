package rpc

// AuthenticateRequest asks the gateway to mint a session token for a named
// user, presenting the freshly-generated symmetric session key and an
// opaque caller payload (a host-environment identity blob this client
// forwards untouched).
type AuthenticateRequest struct {
	UserName   string `json:"uid"`
	SessionKey []byte `json:"session"`
	Payload    string `json:"payload"`
}

// AuthenticateResponse carries the minted token and the gateway's ceiling
// on healthcheck/decay cadence.
type AuthenticateResponse struct {
	Token     []byte `json:"token"`
	MaxNextIn uint32 `json:"max_next_in"`
}

// HandshakeRequest replays the token into the data-plane handshake, telling
// the gateway which local endpoint the viridian will speak from.
type HandshakeRequest struct {
	Token     []byte `json:"token"`
	Version   string `json:"version"`
	Payload   string `json:"payload"`
	LocalIP   []byte `json:"address"`
	LocalPort int32  `json:"port"`
}

// HandshakeResponse carries the user-id the gateway assigned this session.
type HandshakeResponse struct {
	UserID uint16 `json:"user_id"`
}

// HealthcheckRequest is sent on the coordinator's timer to prove the
// viridian is still alive and to announce when it will check in next.
type HealthcheckRequest struct {
	UserID uint16 `json:"user_id"`
	NextIn uint32 `json:"next_in"`
}

// HealthcheckResponse is empty: success is the RPC returning without error.
type HealthcheckResponse struct{}

// ExceptionStatus names why a viridian is reporting itself out best-effort.
type ExceptionStatus int32

const (
	ExceptionTermination ExceptionStatus = iota
	ExceptionError
)

// ExceptionRequest is sent best-effort on shutdown or fatal error so the
// gateway can free the session immediately instead of waiting out the next
// healthcheck window.
type ExceptionRequest struct {
	Status  ExceptionStatus `json:"status"`
	UserID  uint16          `json:"user_id"`
	Message string          `json:"message,omitempty"`
}

// ExceptionResponse is empty.
type ExceptionResponse struct{}

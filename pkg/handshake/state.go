package handshake

// ClientState is a step of the client handshake.
type ClientState int

const (
	ClientStart ClientState = iota
	ClientSendClientHello
	ClientFlushClientHello
	ClientReadHelloVerifyRequest
	ClientReadServerHello
	ClientReadCertificate
	ClientReadCertificateStatus
	ClientVerifyServerCertificate
	ClientReadServerKeyExchange
	ClientReadCertificateRequest
	ClientReadServerHelloDone
	ClientSendClientCertificate
	ClientSendClientKeyExchange
	ClientSendCertificateVerify
	ClientSendChangeCipherSpec
	ClientSendNextProtocol
	ClientSendChannelID
	ClientSendFinished
	ClientFlush
	ClientFalseStart
	ClientReadSessionTicket
	ClientReadChangeCipherSpec
	ClientReadFinished
	ClientDone
	ClientError
)

var clientStateNames = [...]string{
	ClientStart:                   "start",
	ClientSendClientHello:         "send_client_hello",
	ClientFlushClientHello:        "flush_client_hello",
	ClientReadHelloVerifyRequest:  "read_hello_verify_request",
	ClientReadServerHello:         "read_server_hello",
	ClientReadCertificate:         "read_server_certificate",
	ClientReadCertificateStatus:   "read_certificate_status",
	ClientVerifyServerCertificate: "verify_server_certificate",
	ClientReadServerKeyExchange:   "read_server_key_exchange",
	ClientReadCertificateRequest:  "read_certificate_request",
	ClientReadServerHelloDone:     "read_server_hello_done",
	ClientSendClientCertificate:   "send_client_certificate",
	ClientSendClientKeyExchange:   "send_client_key_exchange",
	ClientSendCertificateVerify:   "send_certificate_verify",
	ClientSendChangeCipherSpec:    "send_change_cipher_spec",
	ClientSendNextProtocol:        "send_next_protocol",
	ClientSendChannelID:           "send_channel_id",
	ClientSendFinished:            "send_finished",
	ClientFlush:                   "flush",
	ClientFalseStart:              "false_start",
	ClientReadSessionTicket:       "read_session_ticket",
	ClientReadChangeCipherSpec:    "read_change_cipher_spec",
	ClientReadFinished:            "read_finished",
	ClientDone:                    "done",
	ClientError:                   "error",
}

func (s ClientState) String() string {
	if s >= 0 && int(s) < len(clientStateNames) {
		return clientStateNames[s]
	}
	return "unknown"
}

// ServerState is a step of the server handshake.
type ServerState int

const (
	ServerStart ServerState = iota
	ServerReadClientHello
	ServerSendHelloVerifyRequest
	ServerNegotiateVersion
	ServerLookupSession
	ServerSelectParameters
	ServerSendServerHello
	ServerSendCertificate
	ServerSendCertificateStatus
	ServerSendServerKeyExchange
	ServerSendCertificateRequest
	ServerSendServerHelloDone
	ServerFlush
	ServerReadClientCertificate
	ServerReadClientKeyExchange
	ServerReadCertificateVerify
	ServerReadChangeCipherSpec
	ServerReadNextProtocol
	ServerReadChannelID
	ServerReadFinished
	ServerSendSessionTicket
	ServerSendChangeCipherSpec
	ServerSendFinished
	ServerDone
	ServerError
)

var serverStateNames = [...]string{
	ServerStart:                  "start",
	ServerReadClientHello:        "read_client_hello",
	ServerSendHelloVerifyRequest: "send_hello_verify_request",
	ServerNegotiateVersion:       "negotiate_version",
	ServerLookupSession:          "lookup_session",
	ServerSelectParameters:       "select_parameters",
	ServerSendServerHello:        "send_server_hello",
	ServerSendCertificate:        "send_server_certificate",
	ServerSendCertificateStatus:  "send_certificate_status",
	ServerSendServerKeyExchange:  "send_server_key_exchange",
	ServerSendCertificateRequest: "send_certificate_request",
	ServerSendServerHelloDone:    "send_server_hello_done",
	ServerFlush:                  "flush",
	ServerReadClientCertificate:  "read_client_certificate",
	ServerReadClientKeyExchange:  "read_client_key_exchange",
	ServerReadCertificateVerify:  "read_certificate_verify",
	ServerReadChangeCipherSpec:   "read_change_cipher_spec",
	ServerReadNextProtocol:       "read_next_protocol",
	ServerReadChannelID:          "read_channel_id",
	ServerReadFinished:           "read_finished",
	ServerSendSessionTicket:      "send_session_ticket",
	ServerSendChangeCipherSpec:   "send_change_cipher_spec",
	ServerSendFinished:           "send_finished",
	ServerDone:                   "done",
	ServerError:                  "error",
}

func (s ServerState) String() string {
	if s >= 0 && int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return "unknown"
}

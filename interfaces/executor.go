package interfaces

import "context"

// CommandExecutor owns one HTTP exchange with the ActiveSync endpoint:
// auth headers, protocol version header, the single negotiation retry on
// a 401 and the mapping of transport outcomes to typed errors.
type CommandExecutor interface {
	// ExecuteCommand posts the body for the given ActiveSync command and
	// returns the raw response body.
	ExecuteCommand(ctx context.Context, command string, body string) (string, error)
}

// SOAPExecutor posts an EWS SOAP envelope to the resolved Exchange.asmx
// endpoint over the same authenticated transport.
type SOAPExecutor interface {
	ExecuteSOAP(ctx context.Context, soapAction string, envelope string) (string, error)
}

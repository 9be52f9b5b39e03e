// Package rpc implements the msgpack-rpc transport used to talk to the
// embedded Neovim engine.
//
// A Transport owns one byte stream (the engine's stdio or a socket). It
// multiplexes three message kinds over it:
//
//	request:      [0, msgid, method, params]
//	response:     [1, msgid, error, result]
//	notification: [2, method, params]
//
// Outgoing calls are matched to responses by msgid. Inbound notifications and
// requests are delivered in receipt order on a single channel returned by
// Inbound; each request carries a Responder that answers it exactly once.
//
// When the stream ends, Done is closed, Err reports a *ConnectionError, every
// pending Call fails with KindUnreachable and Inbound is closed.
//
//	t, err := rpc.Spawn(ctx, rpc.Target{Command: "nvim"})
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	var info []any
//	if err := t.Call(ctx, "nvim_get_api_info", &info); err != nil {
//	    return err
//	}
package rpc

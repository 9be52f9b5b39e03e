package rpc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/neovim/go-client/msgpack"
)

// msgpack-rpc message types.
const (
	TypeRequest      = 0
	TypeResponse     = 1
	TypeNotification = 2
)

// Kind distinguishes inbound messages delivered to the session.
type Kind int

const (
	// KindNotification is a fire-and-forget message from the engine.
	KindNotification Kind = iota
	// KindRequest is a call from the engine that expects exactly one answer.
	KindRequest
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindRequest {
		return "request"
	}
	return "notification"
}

// Message is an inbound notification or request.
type Message struct {
	Kind   Kind
	Method string
	Args   []any

	// Responder is set for requests only.
	Responder *Responder
}

// response is a decoded [1, msgid, error, result] envelope.
type response struct {
	ID     uint64
	Error  any
	Result any
}

// encodeRequest packs a [0, msgid, method, params] envelope.
func encodeRequest(id uint64, method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.PackInt(TypeRequest); err != nil {
		return nil, err
	}
	if err := enc.PackUint(id); err != nil {
		return nil, err
	}
	if err := enc.PackString(method); err != nil {
		return nil, err
	}
	if err := encodeParams(enc, args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeNotification packs a [2, method, params] envelope.
func encodeNotification(method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(3); err != nil {
		return nil, err
	}
	if err := enc.PackInt(TypeNotification); err != nil {
		return nil, err
	}
	if err := enc.PackString(method); err != nil {
		return nil, err
	}
	if err := encodeParams(enc, args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeResponse packs a [1, msgid, error, result] envelope. Exactly one of
// errVal and result is meaningful; the other is packed as nil.
func encodeResponse(id uint64, errVal any, result any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.PackArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.PackInt(TypeResponse); err != nil {
		return nil, err
	}
	if err := enc.PackUint(id); err != nil {
		return nil, err
	}
	if err := encodeValue(enc, errVal); err != nil {
		return nil, err
	}
	if err := encodeValue(enc, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeParams(enc *msgpack.Encoder, args []any) error {
	if err := enc.PackArrayLen(int64(len(args))); err != nil {
		return err
	}
	for _, arg := range args {
		if err := encodeValue(enc, arg); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	if v == nil {
		return enc.PackNil()
	}
	return enc.Encode(v)
}

// parseEnvelope splits a decoded message into either an inbound message or
// a response.
func parseEnvelope(raw any) (*Message, *response, error) {
	arr, ok := AsSlice(raw)
	if !ok || len(arr) < 3 {
		return nil, nil, fmt.Errorf("%w: expected array envelope, got %T", ErrMalformedMessage, raw)
	}
	typ, ok := AsInt(arr[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: bad message type %v", ErrMalformedMessage, arr[0])
	}

	switch typ {
	case TypeRequest:
		if len(arr) != 4 {
			return nil, nil, fmt.Errorf("%w: request has %d elements", ErrMalformedMessage, len(arr))
		}
		id, ok := AsInt(arr[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: bad request id %v", ErrMalformedMessage, arr[1])
		}
		method, ok := AsString(arr[2])
		if !ok {
			return nil, nil, fmt.Errorf("%w: bad request method %v", ErrMalformedMessage, arr[2])
		}
		args, _ := AsSlice(arr[3])
		return &Message{
			Kind:      KindRequest,
			Method:    method,
			Args:      args,
			Responder: &Responder{id: uint64(id), method: method},
		}, nil, nil

	case TypeResponse:
		if len(arr) != 4 {
			return nil, nil, fmt.Errorf("%w: response has %d elements", ErrMalformedMessage, len(arr))
		}
		id, ok := AsInt(arr[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: bad response id %v", ErrMalformedMessage, arr[1])
		}
		return nil, &response{ID: uint64(id), Error: arr[2], Result: arr[3]}, nil

	case TypeNotification:
		method, ok := AsString(arr[1])
		if !ok {
			return nil, nil, fmt.Errorf("%w: bad notification method %v", ErrMalformedMessage, arr[1])
		}
		args, _ := AsSlice(arr[2])
		return &Message{Kind: KindNotification, Method: method, Args: args}, nil, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, typ)
}

// assign stores a decoded result into dst. *any receives the value as-is;
// any other pointer is filled by re-encoding the value and decoding it with
// reflection, which lets callers use typed results and msgpack struct tags.
func assign(dst any, v any) error {
	if dst == nil {
		return nil
	}
	if p, ok := dst.(*any); ok {
		*p = v
		return nil
	}
	var buf bytes.Buffer
	if err := encodeValue(msgpack.NewEncoder(&buf), v); err != nil {
		return err
	}
	return msgpack.NewDecoder(io.Reader(&buf)).Decode(dst)
}

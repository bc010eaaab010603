package server

import (
	"context"

	"pico-rpc/codec"
	"pico-rpc/endpoint"
	"pico-rpc/ids"
)

// Handler signatures, one per RPC shape. Request payloads arrive as raw
// bytes — decoding them belongs to the generated layer, which knows the
// schema; the engine only moves opaque payloads. Responses written through
// the handle are serialized by the method's configured codec.
type (
	UnaryHandler           func(ctx context.Context, request []byte, responder *Responder)
	ServerStreamingHandler func(ctx context.Context, request []byte, writer *Writer)
	ClientStreamingHandler func(ctx context.Context, reader *Reader)
	BidirectionalHandler   func(ctx context.Context, readerWriter *ReaderWriter)
)

// Method is one entry of a service's method table. Normally produced by
// generated per-service code; the constructors below are the hand-written
// equivalent.
type Method struct {
	id         uint32
	methodType endpoint.MethodType
	codec      codec.Codec

	unary           UnaryHandler
	serverStreaming ServerStreamingHandler
	clientStreaming ClientStreamingHandler
	bidirectional   BidirectionalHandler
}

// ID returns the method id (65599 hash of the method name).
func (m *Method) ID() uint32 { return m.id }

// Type returns the method's RPC shape.
func (m *Method) Type() endpoint.MethodType { return m.methodType }

func UnaryMethod(name string, cdc codec.Codec, h UnaryHandler) Method {
	return Method{id: ids.Calculate(name), methodType: endpoint.Unary, codec: orRaw(cdc), unary: h}
}

func ServerStreamingMethod(name string, cdc codec.Codec, h ServerStreamingHandler) Method {
	return Method{id: ids.Calculate(name), methodType: endpoint.ServerStreaming, codec: orRaw(cdc), serverStreaming: h}
}

func ClientStreamingMethod(name string, cdc codec.Codec, h ClientStreamingHandler) Method {
	return Method{id: ids.Calculate(name), methodType: endpoint.ClientStreaming, codec: orRaw(cdc), clientStreaming: h}
}

func BidirectionalMethod(name string, cdc codec.Codec, h BidirectionalHandler) Method {
	return Method{id: ids.Calculate(name), methodType: endpoint.BidirectionalStreaming, codec: orRaw(cdc), bidirectional: h}
}

// Service is a registered service: a stable id and a method table. Services
// form an intrusive singly-linked list owned by the server, so registration
// allocates nothing.
type Service struct {
	id      uint32
	name    string
	methods []Method
	next    *Service
}

// NewService builds a service whose id is the 65599 hash of name.
func NewService(name string, methods ...Method) *Service {
	return &Service{id: ids.Calculate(name), name: name, methods: methods}
}

// ID returns the service id.
func (s *Service) ID() uint32 { return s.id }

// Name returns the service name the id was derived from.
func (s *Service) Name() string { return s.name }

func (s *Service) findMethod(id uint32) *Method {
	for i := range s.methods {
		if s.methods[i].id == id {
			return &s.methods[i]
		}
	}
	return nil
}

func orRaw(cdc codec.Codec) codec.Codec {
	if cdc == nil {
		return &codec.RawCodec{}
	}
	return cdc
}
